package cli

import (
	"context"
	"errors"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/snapshot"
)

var errOutputRequired = errors.New("--output is required")

// ExportCmd returns the export command.
func ExportCmd(a *app) *Command {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	output := fs.StringP("output", "o", "", "Write the snapshot to `file` (\"-\" for stdout)")

	return &Command{
		Flags: fs,
		Usage: "export -o <file>",
		Short: "Write the loaded device as a normalized JSON snapshot",
		Long: "Load the device description, resolve source MDS handles and write it as plain JSON.\n" +
			"The file is replaced atomically.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if *output == "" {
				return errOutputRequired
			}

			p, err := a.loadDevice(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			snap := p.Snapshot()

			if *output == "-" {
				return snapshot.Write(o.Out(), snap)
			}

			path := *output
			if !filepath.IsAbs(path) && a.cfg.WorkDir != "" {
				path = filepath.Join(a.cfg.WorkDir, path)
			}

			err = snapshot.WriteFile(path, snap)
			if err != nil {
				return err
			}

			o.Printf("wrote %d descriptors and %d states to %s\n", len(snap.Descriptors), len(snap.States), path)

			return nil
		},
	}
}
