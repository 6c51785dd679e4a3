package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

// TreeCmd returns the tree command.
func TreeCmd(a *app) *Command {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	states := fs.Bool("states", false, "Show the state of every descriptor")

	return &Command{
		Flags: fs,
		Usage: "tree [--states]",
		Short: "Print the descriptor tree",
		Long:  "Load the device description and print its containment tree, one descriptor per line.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			p, err := a.loadDevice(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			o.Println(p.VersionGroup())

			return printTree(o, p.Mdib(), *states)
		},
	}
}

func printTree(o *IO, m *mdib.Mdib, withStates bool) error {
	rs := roots(m)
	if len(rs) == 0 {
		return errNoDevice
	}

	for _, root := range rs {
		subtree, err := m.SubtreeDescriptors(root.Handle)
		if err != nil {
			return err
		}

		depth := map[string]int{}

		for _, d := range subtree {
			if !d.IsRoot() {
				depth[d.Handle] = depth[d.ParentHandle] + 1
			}

			indent := strings.Repeat("  ", depth[d.Handle])
			o.Printf("%s%s %s v%d\n", indent, d.Handle, strings.TrimSuffix(string(d.NodeType), "Descriptor"), d.DescriptorVersion)

			if !withStates {
				continue
			}

			for _, s := range statesOf(m, d) {
				o.Printf("%s  = %s\n", indent, describeState(s))
			}
		}
	}

	if orphans := m.OrphanedDescriptors(); len(orphans) > 0 {
		o.Warn("orphaned descriptors not shown: %s", strings.Join(orphans, ", "))
	}

	return nil
}

func statesOf(m *mdib.Mdib, d *mdib.Descriptor) []*mdib.State {
	if d.IsContextDescriptor() {
		return m.ContextStates(d.Handle)
	}

	s, err := m.State(d.Handle)
	if err != nil {
		return nil
	}

	return []*mdib.State{s}
}

// describeState renders the category-relevant fields of a state on one line.
func describeState(s *mdib.State) string {
	var b strings.Builder

	if s.IsContextState() {
		fmt.Fprintf(&b, "%s ", s.Handle)
	}

	fmt.Fprintf(&b, "sv%d", s.StateVersion)

	if s.ActivationState != "" {
		fmt.Fprintf(&b, " %s", s.ActivationState)
	}

	if mv := s.MetricValue; mv != nil {
		switch {
		case mv.Value != nil:
			fmt.Fprintf(&b, " value=%s", strconv.FormatFloat(*mv.Value, 'f', -1, 64))
		case mv.StringValue != "":
			fmt.Fprintf(&b, " value=%q", mv.StringValue)
		}

		if mv.Validity != "" {
			fmt.Fprintf(&b, " %s", mv.Validity)
		}
	}

	if sa := s.SampleArray; sa != nil {
		fmt.Fprintf(&b, " samples=%d t=%s", len(sa.Samples), strconv.FormatFloat(sa.DeterminationTime, 'f', 3, 64))
	}

	if s.NodeType.Category() == mdib.CategoryAlert {
		fmt.Fprintf(&b, " presence=%t", s.Presence)

		if s.ActualPriority != "" {
			fmt.Fprintf(&b, " priority=%s", s.ActualPriority)
		}
	}

	if s.OperatingMode != "" {
		fmt.Fprintf(&b, " mode=%s", s.OperatingMode)
	}

	if s.ContextAssociation != "" {
		fmt.Fprintf(&b, " %s", s.ContextAssociation)
	}

	for _, id := range s.Identification {
		fmt.Fprintf(&b, " id=%s/%s", id.Root, id.Extension)
	}

	return b.String()
}
