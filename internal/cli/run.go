// Package cli implements mdibctl, a tool to inspect device descriptions and
// to exercise a simulated device and a client replica in one process.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/Draegerwerk/sdc11073-sub000/internal/config"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/provider"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/snapshot"
)

// app is what every command needs besides its own flags.
type app struct {
	cfg config.Config
	log *logrus.Logger
	in  io.Reader
	env map[string]string
}

// loadDevice returns a provider holding the configured snapshot, or the
// demo device when none is configured.
func (a *app) loadDevice(ctx context.Context) (*provider.Provider, error) {
	snap := demoSnapshot()

	if a.cfg.Snapshot != "" {
		var err error

		snap, err = snapshot.ReadFile(a.cfg.Snapshot)
		if err != nil {
			return nil, err
		}
	}

	p, err := provider.New(a.cfg.ProviderConfig(a.log))
	if err != nil {
		return nil, err
	}

	err = p.Load(ctx, snap)
	if err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

func commands(a *app) []*Command {
	return []*Command{
		TreeCmd(a),
		ExportCmd(a),
		SimulateCmd(a),
		ShellCmd(a),
		PrintConfigCmd(a),
	}
}

// Run is the entry point. Returns the exit code.
func Run(in io.Reader, out, errOut io.Writer, args []string, env map[string]string) int {
	o := NewIO(out, errOut)

	globals := flag.NewFlagSet("mdibctl", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	flagHelp := globals.BoolP("help", "h", false, "Show help")
	flagCwd := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globals.StringP("config", "c", "", "Use the given config `file`")
	flagSnapshot := globals.StringP("snapshot", "s", "", "Device description `file` (HuJSON)")
	flagLogLevel := globals.String("log-level", "", "Log `level` (debug, info, warning, error)")
	flagSequence := globals.String("sequence-id", "", "Sequence `id` of the simulated device")

	if len(args) == 0 {
		args = []string{"mdibctl"}
	}

	err := globals.Parse(args[1:])
	if err != nil {
		o.ErrPrintln("error:", err)
		printUsage(o.errOut, globals, nil)

		return 1
	}

	rest := globals.Args()

	cfg, err := config.Load(config.LoadInput{
		WorkDir:    *flagCwd,
		ConfigPath: *flagConfig,
		Overrides: config.Config{
			Snapshot:   *flagSnapshot,
			LogLevel:   *flagLogLevel,
			SequenceID: *flagSequence,
		},
		Env: env,
	})
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	a := &app{cfg: cfg, log: cfg.NewLogger(errOut), in: in, env: env}
	cmds := commands(a)

	if *flagHelp || len(rest) == 0 {
		printUsage(out, globals, cmds)
		return 0
	}

	for _, cmd := range cmds {
		if cmd.Name() == rest[0] {
			return cmd.Run(context.Background(), o, rest[1:])
		}
	}

	o.ErrPrintln("error: unknown command:", rest[0])
	printUsage(errOut, globals, cmds)

	return 1
}

func printUsage(w io.Writer, globals *flag.FlagSet, cmds []*Command) {
	fprintln(w, "mdibctl - MDIB inspection and device simulation")
	fprintln(w)
	fprintln(w, "Usage: mdibctl [global flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	_, _ = fmt.Fprint(w, buf.String())

	if len(cmds) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range cmds {
		fprintln(w, cmd.HelpLine())
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

// Environ converts os.Environ into a map.
func Environ() map[string]string {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	return env
}

// errNoDevice is returned by commands run against an MDIB without an MDS.
var errNoDevice = errors.New("device description has no mds")

func roots(m *mdib.Mdib) []*mdib.Descriptor {
	var out []*mdib.Descriptor

	for _, d := range m.Descriptors() {
		if d.IsRoot() {
			out = append(out, d)
		}
	}

	return out
}
