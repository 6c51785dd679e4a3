package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/consumer"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/provider"
)

var errEarlyNeedsBuffer = errors.New("--early needs buffer_policy \"buffer\"")

// SimulateCmd returns the simulate command.
func SimulateCmd(a *app) *Command {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	steps := fs.IntP("steps", "n", 20, "Number of simulation steps")
	seed := fs.Uint64("seed", 1, "Random seed")
	drop := fs.Float64("drop", 0, "Probability of losing a report")
	duplicate := fs.Float64("duplicate", 0, "Probability of delivering a report twice")
	reorder := fs.Float64("reorder", 0, "Probability of swapping two adjacent reports")
	early := fs.Int("early", 0, "Deliver the first `n` steps before the replica is initialized")

	return &Command{
		Flags: fs,
		Usage: "simulate [flags]",
		Short: "Run a device and a replica over a lossy in-process link",
		Long: "Load the device, attach a replica through an in-process report link and run\n" +
			"random metric and waveform updates. Prints the replica's bookkeeping and\n" +
			"whether it ended up identical to the device.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if *steps < 0 || *early < 0 || *early > *steps {
				return fmt.Errorf("need 0 <= --early <= --steps, got early=%d steps=%d", *early, *steps)
			}

			cc := a.cfg.ConsumerConfig(a.log)
			if *early > 0 && cc.Policy != consumer.PolicyBuffer {
				return errEarlyNeedsBuffer
			}

			p, err := a.loadDevice(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			c, err := consumer.New(cc)
			if err != nil {
				return err
			}
			defer c.Close()

			sim := newSimulator(p, *seed)
			l := &link{rng: sim.rng, drop: *drop, duplicate: *duplicate, reorder: *reorder}
			p.AddSink(l)

			// with --early the snapshot is taken after the buffered reports
			// were sent, so replay has to drop the ones it already contains
			var snapshotAt int
			if *early == 0 {
				err = c.Initialize(p.Snapshot())
				if err != nil {
					return err
				}
			}

			for i := range *steps {
				err = sim.step(ctx)
				if err != nil {
					return fmt.Errorf("step %d: %w", i, err)
				}

				if i+1 == *early {
					snapshotAt = i + 1

					err = initializeLate(ctx, c, p, l)
					if err != nil {
						return err
					}

					continue
				}

				if c.Initialized() {
					_, err = l.deliver(ctx, c)
					if err != nil {
						return err
					}
				}
			}

			printSimulation(o, p, c, l, snapshotAt)

			return nil
		},
	}
}

// initializeLate queues everything sent so far, then initializes from a
// fresh snapshot so the queued reports are replayed against it.
func initializeLate(ctx context.Context, c *consumer.Consumer, p *provider.Provider, l *link) error {
	_, err := l.deliver(ctx, c)
	if err != nil {
		return err
	}

	return c.Initialize(p.Snapshot())
}

func printSimulation(o *IO, p *provider.Provider, c *consumer.Consumer, l *link, snapshotAt int) {
	st := c.Status()

	o.Printf("device:   %s\n", p.VersionGroup())
	o.Printf("replica:  %s\n", st.Version)

	if snapshotAt > 0 {
		o.Printf("snapshot: after step %d\n", snapshotAt)
	}

	o.Printf("reports:  delivered=%d lost=%d\n", l.sent, l.lost)
	o.Printf("gaps=%d stale=%d epoch_changes=%d rejected=%d recovered=%d evicted_samples=%d\n",
		st.Gaps, st.StaleReports, st.EpochChanges, st.RejectedItems, st.RecoveredStates, st.EvictedSamples)

	for _, h := range c.WaveformHandles() {
		o.Printf("waveform %s: %d samples\n", h, len(c.Waveform(h)))
	}

	diff := divergence(p.Mdib(), c.Mdib())
	if len(diff) == 0 {
		o.Println("replica in sync")
		return
	}

	if l.lost > 0 {
		o.Printf("replica diverged after lost reports: %s\n", strings.Join(diff, ", "))
		return
	}

	o.Warn("replica diverged without lost reports: %s", strings.Join(diff, ", "))
}
