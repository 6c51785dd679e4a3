package consumer

import (
	"slices"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

// DefaultWaveformCapacity is the per-handle sample buffer size.
const DefaultWaveformCapacity = 2000

// Sample is one expanded waveform sample.
type Sample struct {
	// Timestamp in seconds since epoch.
	Timestamp   float64
	Value       float64
	Validity    mdib.Validity
	Annotations []string
}

// ExpandSamples turns the compact sample array encoding into individual
// samples: sample i is taken at DeterminationTime + i*period. The period is
// the array's own SamplePeriod, or fallbackPeriod if that is zero.
// Annotations are attached by index; out-of-range indices are ignored.
func ExpandSamples(sa *mdib.SampleArrayValue, fallbackPeriod float64) []Sample {
	if sa == nil || len(sa.Samples) == 0 {
		return nil
	}

	period := sa.SamplePeriod
	if period == 0 {
		period = fallbackPeriod
	}

	out := make([]Sample, len(sa.Samples))
	for i, v := range sa.Samples {
		out[i] = Sample{
			Timestamp: sa.DeterminationTime + float64(i)*period,
			Value:     v,
			Validity:  sa.Validity,
		}
	}

	for _, a := range sa.Annotations {
		if a.Index < 0 || a.Index >= len(out) {
			continue
		}

		out[a.Index].Annotations = append(out[a.Index].Annotations, a.Code)
	}

	return out
}

func copySamples(in []Sample) []Sample {
	out := slices.Clone(in)
	for i := range out {
		out[i].Annotations = slices.Clone(out[i].Annotations)
	}

	return out
}
