package metric

import (
	"errors"
	"fmt"
)

// SamplingKind selects the formula value calculation uses to turn a pair
// of raw samples into one displayable value.
type SamplingKind string

const (
	TotalCount          SamplingKind = "TotalCount"
	TotalFraction       SamplingKind = "TotalFraction"
	IncrementalCount    SamplingKind = "IncrementalCount"
	IncrementalFraction SamplingKind = "IncrementalFraction"
	RawCount            SamplingKind = "RawCount"
	RawFraction         SamplingKind = "RawFraction"
	NumberOfItems       SamplingKind = "NumberOfItems"
)

// needsBaseline reports whether kind's formula requires a baseline
// sample to compute a value. NumberOfItems uses the current sample's raw
// value directly, and the incremental kinds add it to a running sum kept
// from the first sample on.
func (k SamplingKind) needsBaseline() bool {
	return k != NumberOfItems && k != IncrementalCount && k != IncrementalFraction
}

// ErrDataCollection is raised when a sample kind's formula hits a
// zero-base division with a non-zero value delta.
var ErrDataCollection = errors.New("metric: data collection error")

// Sample is one raw observation recorded for a metric instance.
type Sample struct {
	Sequence        uint64
	RawValue        float64
	BaseValue       float64
	RawTimestamp    int64
	SampleTimestamp int64
	Kind            SamplingKind
}

// computeValue derives one displayable value from a (baseline, current)
// sample pair according to the kind's formula. baseline is the zero
// value when the kind doesn't need one or none is available; runningSum
// carries IncrementalCount/IncrementalFraction's accumulator across
// calls, since those kinds are cumulative since the first sample rather
// than pairwise deltas.
func computeValue(kind SamplingKind, baseline, current Sample, runningSum float64) (float64, error) {
	switch kind {
	case TotalCount:
		return current.RawValue - baseline.RawValue, nil

	case TotalFraction:
		baseDelta := current.BaseValue - baseline.BaseValue
		valueDelta := current.RawValue - baseline.RawValue
		if baseDelta == 0 {
			if valueDelta != 0 {
				return 0, fmt.Errorf("%w: zero base delta with non-zero value delta", ErrDataCollection)
			}
			return 0, nil
		}
		return valueDelta / baseDelta, nil

	case IncrementalCount:
		return runningSum + current.RawValue, nil

	case IncrementalFraction:
		if current.BaseValue == 0 {
			if current.RawValue != 0 {
				return 0, fmt.Errorf("%w: zero base with non-zero value", ErrDataCollection)
			}
			return 0, nil
		}
		return (runningSum + current.RawValue) / current.BaseValue, nil

	case RawCount:
		span := current.SampleTimestamp - baseline.SampleTimestamp
		if span <= 0 {
			return current.RawValue, nil
		}
		delta := current.RawValue - baseline.RawValue
		return delta / float64(span), nil

	case RawFraction:
		span := current.SampleTimestamp - baseline.SampleTimestamp
		if span <= 0 {
			return 0, nil
		}
		valueRate := (current.RawValue - baseline.RawValue) / float64(span)
		baseRate := (current.BaseValue - baseline.BaseValue) / float64(span)
		if baseRate == 0 {
			if valueRate != 0 {
				return 0, fmt.Errorf("%w: zero base rate with non-zero value rate", ErrDataCollection)
			}
			return 0, nil
		}
		return valueRate / baseRate, nil

	case NumberOfItems:
		return current.RawValue, nil

	default:
		return 0, fmt.Errorf("metric: unknown sampling kind %q", kind)
	}
}
