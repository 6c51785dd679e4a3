package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/consumer"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/provider"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/snapshot"
)

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	seed := fs.Uint64("seed", 1, "Random seed for the step command")

	return &Command{
		Flags: fs,
		Usage: "shell [--seed n]",
		Short: "Interactive device and replica session",
		Long: "Start a device and a replica connected by an in-process link and edit the\n" +
			"device interactively. Every change is delivered to the replica immediately.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			s, err := newShell(ctx, a, o, *seed)
			if err != nil {
				return err
			}
			defer s.close()

			return s.run(ctx)
		},
	}
}

type shell struct {
	a    *app
	o    *IO
	p    *provider.Provider
	c    *consumer.Consumer
	sim  *simulator
	link *link
}

func newShell(ctx context.Context, a *app, o *IO, seed uint64) (*shell, error) {
	p, err := a.loadDevice(ctx)
	if err != nil {
		return nil, err
	}

	c, err := consumer.New(a.cfg.ConsumerConfig(a.log))
	if err != nil {
		p.Close()
		return nil, err
	}

	err = c.Initialize(p.Snapshot())
	if err != nil {
		p.Close()
		c.Close()

		return nil, err
	}

	sim := newSimulator(p, seed)
	l := &link{rng: sim.rng}
	p.AddSink(l)

	return &shell{a: a, o: o, p: p, c: c, sim: sim, link: l}, nil
}

func (s *shell) close() {
	s.c.Close()
	s.p.Close()
}

var shellCommands = []string{
	"tree", "get", "set", "add", "delete", "assoc", "remove",
	"step", "wave", "status", "export", "help", "exit", "quit", "q",
}

func (s *shell) historyFile() string {
	home := s.a.env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".mdibctl_history")
}

// run reads commands until exit or end of input. A terminal on stdin gets
// line editing and history; anything else is read line by line.
func (s *shell) run(ctx context.Context) error {
	if f, ok := s.a.in.(*os.File); ok && f == os.Stdin {
		return s.runInteractive(ctx)
	}

	in := s.a.in
	if in == nil {
		in = strings.NewReader("")
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if s.exec(ctx, scanner.Text()) {
			return nil
		}
	}

	return scanner.Err()
}

func (s *shell) runInteractive(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(prefix)) {
				out = append(out, c)
			}
		}

		return out
	})

	if f, err := os.Open(s.historyFile()); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer s.saveHistory(line)

	s.o.Printf("mdibctl shell (%s)\n", s.p.VersionGroup())
	s.o.Println("Type 'help' for available commands.")

	for {
		input, err := line.Prompt("mdib> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if s.exec(ctx, input) {
			return nil
		}
	}
}

func (s *shell) saveHistory(line *liner.State) {
	path := s.historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = line.WriteHistory(f)
	_ = f.Close()
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return false
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		s.printHelp()
	case "tree":
		err = s.cmdTree(args)
	case "get":
		err = s.cmdGet(args)
	case "set":
		err = s.cmdSet(ctx, args)
	case "add":
		err = s.cmdAdd(ctx, args)
	case "delete", "del":
		err = s.cmdDelete(ctx, args)
	case "assoc":
		err = s.cmdAssoc(ctx, args)
	case "remove":
		err = s.cmdRemove(ctx, args)
	case "step":
		err = s.cmdStep(ctx, args)
	case "wave":
		err = s.cmdWave(args)
	case "status":
		s.cmdStatus()
	case "export":
		err = s.cmdExport(args)
	default:
		err = fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
	}

	if err != nil {
		s.o.Println("error:", err)
	}

	return false
}

func (s *shell) printHelp() {
	s.o.Println("Commands:")
	s.o.Println("  tree [replica]                     Show the device (or replica) tree with states")
	s.o.Println("  get <handle>                       Show a state on device and replica")
	s.o.Println("  set <handle> <value>               Set a numeric metric value")
	s.o.Println("  add <parent> <handle> <type>       Create a descriptor, e.g. 'add vmd0 temp NumericMetric'")
	s.o.Println("  delete <handle>                    Delete a descriptor and its subtree")
	s.o.Println("  assoc <context> [root/extension]   Associate a new context state")
	s.o.Println("  remove <context-state>             Remove a context state")
	s.o.Println("  step [n]                           Run n simulation steps (default 1)")
	s.o.Println("  wave <handle> [n]                  Show the last n replica samples (default 10)")
	s.o.Println("  status                             Show replica bookkeeping")
	s.o.Println("  export <file>                      Write the device snapshot")
	s.o.Println("  help                               Show this help")
	s.o.Println("  exit / quit / q                    Exit")
}

// commit runs fn as one device transaction and delivers the resulting
// reports to the replica.
func (s *shell) commit(ctx context.Context, fn func(tx *provider.Tx) error) error {
	res, err := s.p.Transaction(ctx, func(_ context.Context, tx *provider.Tx) error { return fn(tx) })
	if err != nil {
		return err
	}

	if res.Empty() {
		s.o.Println("nothing changed")
		return nil
	}

	return s.deliver(ctx, res.VersionGroup)
}

func (s *shell) deliver(ctx context.Context, v mdib.VersionGroup) error {
	outcomes, err := s.link.deliver(ctx, s.c)
	if err != nil {
		return err
	}

	applied, rejected := 0, 0
	for _, out := range outcomes {
		applied += out.Applied
		rejected += out.Rejected
	}

	s.o.Printf("mdib_version=%d reports=%d applied=%d rejected=%d\n", v.MdibVersion, len(outcomes), applied, rejected)

	return nil
}

func (s *shell) cmdTree(args []string) error {
	m := s.p.Mdib()
	if len(args) > 0 && args[0] == "replica" {
		m = s.c.Mdib()
	}

	return printTree(s.o, m, true)
}

func (s *shell) cmdGet(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <handle>")
	}

	for _, side := range []struct {
		name string
		m    *mdib.Mdib
	}{{"device", s.p.Mdib()}, {"replica", s.c.Mdib()}} {
		st, err := lookup(side.m, args[0])
		if err != nil {
			s.o.Printf("%-8s %v\n", side.name, err)
			continue
		}

		s.o.Printf("%-8s %s\n", side.name, describeState(st))
	}

	return nil
}

func lookup(m *mdib.Mdib, handle string) (*mdib.State, error) {
	if st, err := m.State(handle); err == nil {
		return st, nil
	}

	return m.ContextState(handle)
}

func (s *shell) cmdSet(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set <handle> <value>")
	}

	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[1])
	}

	return s.commit(ctx, func(tx *provider.Tx) error {
		st, err := tx.State(args[0])
		if err != nil {
			return err
		}

		if st.NodeType.Category() != mdib.CategoryMetric {
			return fmt.Errorf("%s is a %s, not a metric", args[0], st.NodeType)
		}

		st.MetricValue = &mdib.MetricValue{Value: mdib.Float(value), Validity: mdib.ValidityValid}

		return tx.PutState(st)
	})
}

func (s *shell) cmdAdd(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: add <parent> <handle> <type>")
	}

	nodeType := mdib.NodeType(args[2])
	if !strings.HasSuffix(args[2], "Descriptor") {
		nodeType += "Descriptor"
	}

	return s.commit(ctx, func(tx *provider.Tx) error {
		return tx.CreateDescriptor(&mdib.Descriptor{Handle: args[1], ParentHandle: args[0], NodeType: nodeType})
	})
}

func (s *shell) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: delete <handle>")
	}

	return s.commit(ctx, func(tx *provider.Tx) error {
		return tx.DeleteDescriptor(args[0])
	})
}

func (s *shell) cmdAssoc(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: assoc <context> [root/extension]")
	}

	var handle string

	err := s.commit(ctx, func(tx *provider.Tx) error {
		st, err := tx.NewContextState(args[0])
		if err != nil {
			return err
		}

		handle = st.Handle

		if len(args) == 2 {
			root, ext, _ := strings.Cut(args[1], "/")
			st.Identification = []mdib.InstanceIdentifier{{Root: root, Extension: ext}}

			return tx.PutContextState(st)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.o.Println("associated", handle)

	return nil
}

func (s *shell) cmdRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: remove <context-state>")
	}

	return s.commit(ctx, func(tx *provider.Tx) error {
		return tx.RemoveContextState(args[0])
	})
}

func (s *shell) cmdStep(ctx context.Context, args []string) error {
	n := 1

	if len(args) > 0 {
		var err error

		n, err = strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid step count %q", args[0])
		}
	}

	for range n {
		err := s.sim.step(ctx)
		if err != nil {
			return err
		}
	}

	return s.deliver(ctx, s.p.VersionGroup())
}

func (s *shell) cmdWave(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: wave <handle> [n]")
	}

	n := 10

	if len(args) == 2 {
		var err error

		n, err = strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid sample count %q", args[1])
		}
	}

	samples := s.c.LastSamples(args[0], n)
	if len(samples) == 0 {
		return fmt.Errorf("no samples for %s", args[0])
	}

	for _, smp := range samples {
		s.o.Printf("%.3f %g %s\n", smp.Timestamp, smp.Value, strings.Join(smp.Annotations, ","))
	}

	return nil
}

func (s *shell) cmdStatus() {
	st := s.c.Status()

	s.o.Printf("device:  %s\n", s.p.VersionGroup())
	s.o.Printf("replica: %s\n", st.Version)
	s.o.Printf("gaps=%d stale=%d epoch_changes=%d rejected=%d recovered=%d evicted_samples=%d\n",
		st.Gaps, st.StaleReports, st.EpochChanges, st.RejectedItems, st.RecoveredStates, st.EvictedSamples)

	if len(st.Orphans) > 0 {
		s.o.Printf("orphans: %s\n", strings.Join(st.Orphans, ", "))
	}

	if diff := divergence(s.p.Mdib(), s.c.Mdib()); len(diff) > 0 {
		s.o.Printf("diverged: %s\n", strings.Join(diff, ", "))
	} else {
		s.o.Println("replica in sync")
	}
}

func (s *shell) cmdExport(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: export <file>")
	}

	path := args[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.a.cfg.WorkDir, path)
	}

	err := snapshot.WriteFile(path, s.p.Snapshot())
	if err != nil {
		return err
	}

	s.o.Println("wrote", path)

	return nil
}
