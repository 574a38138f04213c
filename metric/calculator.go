package metric

import (
	"fmt"
	"time"
)

// Value is one computed, time-aligned datapoint in a MetricValueCollection.
type Value struct {
	Timestamp int64
	Value     float64
}

// tolerance is the fixed per-interval matching window used when picking
// which raw sample represents a target bucket time.
var tolerance = map[Interval]time.Duration{
	IntervalMillisecond: 100 * time.Nanosecond,
	IntervalSecond:      10 * time.Millisecond,
	IntervalMinute:      2 * time.Second,
	IntervalHour:        1 * time.Minute,
	IntervalDay:         30 * time.Minute,
	IntervalWeek:        12 * time.Hour,
	IntervalMonth:       2 * 24 * time.Hour,
}

// Calculate converts samples (already sorted by SampleTimestamp
// ascending, as fragment append order guarantees) into a regularly
// spaced series over [start, end] at the given interval. intervals
// multiplies the interval's base duration to get the bucket width Δ.
//
// For IntervalShortest, samples are used as-is within [start, end], with
// up to two extrapolated "synthetic" samples bracketing the range when a
// baseline lies just outside it (see shortestSeries).
func Calculate(samples []Sample, kind SamplingKind, interval Interval, intervals int, start, end int64) ([]Value, error) {
	if interval == IntervalShortest {
		return shortestSeries(samples, start, end)
	}

	delta := interval.Duration().Nanoseconds() * int64(intervals)
	if delta <= 0 {
		return nil, fmt.Errorf("metric: interval %q has no positive duration", interval)
	}
	tau := tolerance[interval].Nanoseconds()

	var out []Value
	var runningSum float64
	var haveValue bool
	var lastValue float64

	// sampleIdx walks forward through samples as target times advance;
	// it is never rewound, since target buckets only move forward.
	sampleIdx := 0

	for tk := start; tk <= end; tk += delta {
		sample, found := pickSampleForBucket(samples, tk, tau, &sampleIdx)

		if !found {
			if haveValue {
				out = append(out, Value{Timestamp: tk, Value: lastValue})
			} else {
				out = append(out, Value{Timestamp: tk, Value: 0})
			}
			continue
		}

		if !kind.needsBaseline() {
			v, err := computeValue(kind, Sample{}, sample, runningSum)
			if err != nil {
				return out, err
			}
			if kind == IncrementalCount || kind == IncrementalFraction {
				runningSum = v
			}
			out = append(out, Value{Timestamp: tk, Value: v})
			haveValue, lastValue = true, v
			continue
		}

		// The baseline is found fresh for each bucket by
		// mostRecentAtOrBefore, which scans from the start of the sample
		// list, not by reusing
		// sampleIdx's current position: an earlier implementation this
		// is grounded on conflated the two, which looks backward from
		// the wrong sample on every bucket after the first baseline
		// lookup. Walking from scratch keeps each bucket's baseline
		// correct regardless of how far sampleIdx has advanced.
		baseline, haveBaseline := mostRecentAtOrBefore(samples, tk-delta)
		if !haveBaseline {
			out = append(out, Value{Timestamp: tk, Value: 0})
			haveValue, lastValue = true, 0
			continue
		}

		v, err := computeValue(kind, baseline, sample, runningSum)
		if err != nil {
			return out, err
		}
		if kind == IncrementalCount || kind == IncrementalFraction {
			runningSum = v
		}
		out = append(out, Value{Timestamp: tk, Value: v})
		haveValue, lastValue = true, v
	}

	return out, nil
}

// pickSampleForBucket finds the sample best representing bucket time tk:
// an exact match, or the last sample before tk+tau whose successor falls
// after tk+tau. idx is advanced past any samples consumed or skipped
// (downsampled) so later buckets never re-examine them.
func pickSampleForBucket(samples []Sample, tk, tau int64, idx *int) (Sample, bool) {
	var best Sample
	found := false

	for *idx < len(samples) {
		s := samples[*idx]
		if s.SampleTimestamp == tk {
			best, found = s, true
			*idx++
			continue
		}
		if s.SampleTimestamp < tk+tau {
			isLast := *idx == len(samples)-1
			nextAfterWindow := !isLast && samples[*idx+1].SampleTimestamp > tk+tau
			if isLast || nextAfterWindow {
				best, found = s, true
			}
			*idx++
			continue
		}
		break
	}

	return best, found
}

// mostRecentAtOrBefore returns the last sample with SampleTimestamp <= t.
func mostRecentAtOrBefore(samples []Sample, t int64) (Sample, bool) {
	var best Sample
	found := false
	for _, s := range samples {
		if s.SampleTimestamp > t {
			break
		}
		best, found = s, true
	}
	return best, found
}

// shortestSeries implements IntervalShortest: raw samples within
// [start, end] verbatim, plus up to two extrapolated bracket samples
// when a baseline lies just outside the range on either side.
func shortestSeries(samples []Sample, start, end int64) ([]Value, error) {
	var inRange []Sample
	var beforeStart *Sample
	var afterEnd *Sample

	for i := range samples {
		s := samples[i]
		switch {
		case s.SampleTimestamp < start:
			cp := s
			beforeStart = &cp
		case s.SampleTimestamp > end:
			if afterEnd == nil {
				cp := s
				afterEnd = &cp
			}
		default:
			inRange = append(inRange, s)
		}
	}

	var out []Value

	if len(inRange) > 0 && inRange[0].SampleTimestamp > start && beforeStart != nil {
		v, err := computeValue(TotalCount, *beforeStart, inRange[0], 0)
		if err != nil {
			return nil, err
		}
		out = append(out, Value{Timestamp: start, Value: v})
	}

	for _, s := range inRange {
		out = append(out, Value{Timestamp: s.SampleTimestamp, Value: s.RawValue})
	}

	if len(inRange) > 0 && inRange[len(inRange)-1].SampleTimestamp < end && afterEnd != nil {
		last := inRange[len(inRange)-1]
		v, err := computeValue(TotalCount, last, *afterEnd, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, Value{Timestamp: end, Value: v})
	}

	return out, nil
}
