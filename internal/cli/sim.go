package cli

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/consumer"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/provider"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/reports"
)

// samplesPerStep is the number of waveform samples pushed per real-time
// metric and step.
const samplesPerStep = 25

// simulator drives a provider with plausible metric and waveform changes.
type simulator struct {
	p   *provider.Provider
	rng *rand.Rand

	// clock in seconds; advances by one waveform batch per step
	clock float64
}

func newSimulator(p *provider.Provider, seed uint64) *simulator {
	return &simulator{p: p, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), clock: 1_700_000_000}
}

// step commits one random walk of every numeric metric, then one batch of
// samples for every real-time metric.
func (s *simulator) step(ctx context.Context) error {
	m := s.p.Mdib()

	_, err := s.p.Transaction(ctx, func(_ context.Context, tx *provider.Tx) error {
		for _, d := range m.DescriptorsByType(mdib.NodeNumericMetric) {
			st, err := tx.State(d.Handle)
			if err != nil {
				return err
			}

			value := 50.0
			if st.MetricValue != nil && st.MetricValue.Value != nil {
				value = *st.MetricValue.Value
			}

			value = math.Round((value+s.rng.NormFloat64())*10) / 10

			st.MetricValue = &mdib.MetricValue{Value: mdib.Float(value), DeterminationTime: s.clock, Validity: mdib.ValidityValid}

			err = tx.PutState(st)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	waves := m.DescriptorsByType(mdib.NodeRealTimeSampleArrayMetric)
	if len(waves) == 0 {
		s.clock++
		return nil
	}

	rt, err := s.p.BeginRealTime(ctx)
	if err != nil {
		return err
	}
	defer rt.Rollback()

	period := 0.0

	for _, d := range waves {
		period = d.SamplePeriod
		if period == 0 {
			period = 0.01
		}

		samples := make([]float64, samplesPerStep)
		for i := range samples {
			t := s.clock + float64(i)*period
			samples[i] = math.Round(math.Sin(2*math.Pi*1.2*t)*1000) / 1000
		}

		err = rt.PutSamples(d.Handle, mdib.SampleArrayValue{
			DeterminationTime: s.clock,
			SamplePeriod:      period,
			Samples:           samples,
			Validity:          mdib.ValidityValid,
		})
		if err != nil {
			return err
		}
	}

	_, err = rt.Commit()
	if err != nil {
		return err
	}

	s.clock += samplesPerStep * period

	return nil
}

// link is an in-process report channel between a provider and a consumer.
// It can lose, duplicate and reorder reports like a real network.
type link struct {
	rng       *rand.Rand
	drop      float64
	duplicate float64
	reorder   float64

	queue []reports.Report
	sent  int
	lost  int
}

func (l *link) OnTransaction(res *provider.TransactionResult) {
	l.queue = append(l.queue, reports.FromTransaction(res)...)
}

func (l *link) OnRealTimeSamples(res *provider.RealTimeResult) {
	l.queue = append(l.queue, reports.FromRealTime(res))
}

// deliver hands every queued report to c, perturbed by the link settings.
func (l *link) deliver(ctx context.Context, c *consumer.Consumer) ([]consumer.Outcome, error) {
	batch := l.queue
	l.queue = nil

	if l.reorder > 0 {
		for i := 0; i+1 < len(batch); i++ {
			if l.rng.Float64() < l.reorder {
				batch[i], batch[i+1] = batch[i+1], batch[i]
				i++
			}
		}
	}

	var out []consumer.Outcome

	for _, r := range batch {
		if l.drop > 0 && l.rng.Float64() < l.drop {
			l.lost++
			continue
		}

		copies := 1
		if l.duplicate > 0 && l.rng.Float64() < l.duplicate {
			copies = 2
		}

		for range copies {
			res, err := c.Apply(ctx, r)
			if err != nil {
				return out, err
			}

			l.sent++
			out = append(out, res)
		}
	}

	return out, nil
}

// divergence lists the state keys whose replica content differs from the
// provider's, plus descriptors missing on either side.
func divergence(p, r *mdib.Mdib) []string {
	want := map[string]*mdib.State{}
	for _, s := range p.Snapshot().States {
		want[s.Key()] = s
	}

	var out []string

	got := r.Snapshot()
	seen := map[string]bool{}

	for _, s := range got.States {
		seen[s.Key()] = true

		w, ok := want[s.Key()]
		if !ok || !w.Equal(s) {
			out = append(out, s.Key())
		}
	}

	for k := range want {
		if !seen[k] {
			out = append(out, k)
		}
	}

	for _, d := range p.Descriptors() {
		if _, err := r.Descriptor(d.Handle); err != nil {
			out = append(out, d.Handle)
		}
	}

	slices.Sort(out)

	return slices.Compact(out)
}
