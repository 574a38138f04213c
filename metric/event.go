package metric

import "time"

// EventRecord is one recorded event on an event metric: a timestamp plus
// the numeric value extracted for each of the definition's EventValueDef
// entries, keyed by field name.
type EventRecord struct {
	Timestamp int64
	Values    map[string]float64
}

// EventCollection is the Event-metric counterpart to Collection: it adds
// AddOrGet, which derives the instance name from a caller-supplied
// object via the definition's NameBound accessor instead of taking the
// name directly.
type EventCollection struct {
	*Collection
	events map[string][]EventRecord
}

// NewEventCollection returns an empty EventCollection for def.
func NewEventCollection(def *Definition) *EventCollection {
	return &EventCollection{Collection: NewCollection(def), events: make(map[string][]EventRecord)}
}

// AddOrGet extracts an instance name from obj using the definition's
// NameBound accessor and returns that instance's Metric, creating it on
// first use. If extraction fails, it returns (nil, false): no metric,
// no error.
func (ec *EventCollection) AddOrGet(obj any) (*Metric, bool) {
	if ec.def.NameBound.Accessor == nil {
		return nil, false
	}
	name, ok := ec.def.NameBound.Accessor(obj)
	if !ok {
		return nil, false
	}
	return ec.GetOrCreate(name), true
}

// RecordEvent extracts each of the definition's value fields from obj
// and appends one EventRecord under m's instance name. A field whose
// accessor fails to extract is omitted from Values rather than failing
// the whole record.
func (ec *EventCollection) RecordEvent(m *Metric, obj any, timestampUnixNano int64) {
	values := make(map[string]float64, len(ec.def.Values))
	for _, vd := range ec.def.Values {
		if vd.Accessor == nil {
			continue
		}
		if v, ok := vd.Accessor(obj); ok {
			values[vd.Name] = v
		}
	}

	ec.Collection.mu.Lock()
	ec.events[m.InstanceName] = append(ec.events[m.InstanceName], EventRecord{Timestamp: timestampUnixNano, Values: values})
	ec.Collection.mu.Unlock()
}

// Derive computes one aggregated value per EventValueDef for every
// interval bucket in [start, end], applying each field's DefaultTrend
// over the events falling in that bucket.
func (ec *EventCollection) Derive(instanceName string, intervals int, start, end int64) (map[string][]Value, error) {
	ec.Collection.mu.RLock()
	records := append([]EventRecord(nil), ec.events[instanceName]...)
	ec.Collection.mu.RUnlock()

	delta := ec.def.Interval.Duration().Nanoseconds() * int64(intervals)
	if delta <= 0 {
		delta = int64(time.Second)
	}

	out := make(map[string][]Value, len(ec.def.Values))
	for _, vd := range ec.def.Values {
		var series []Value
		var running float64
		for tk := start; tk <= end; tk += delta {
			bucketEnd := tk + delta
			trendValue, hasEvents := aggregate(records, vd, tk, bucketEnd)
			if vd.DefaultTrend == TrendRunningCount || vd.DefaultTrend == TrendRunningSum {
				running += trendValue
				trendValue = running
			} else if !hasEvents {
				trendValue = 0
			}
			series = append(series, Value{Timestamp: tk, Value: trendValue})
		}
		out[vd.Name] = series
	}
	return out, nil
}

func aggregate(records []EventRecord, vd EventValueDef, bucketStart, bucketEnd int64) (float64, bool) {
	var sum, min, max float64
	var count int
	first := true

	for _, r := range records {
		if r.Timestamp < bucketStart || r.Timestamp >= bucketEnd {
			continue
		}
		v, ok := r.Values[vd.Name]
		if !ok {
			continue
		}
		count++
		sum += v
		if first || v < min {
			min = v
		}
		if first || v > max {
			max = v
		}
		first = false
	}

	if count == 0 {
		return 0, false
	}

	switch vd.DefaultTrend {
	case TrendCount, TrendRunningCount:
		return float64(count), true
	case TrendSum, TrendRunningSum:
		return sum, true
	case TrendMin:
		return min, true
	case TrendMax:
		return max, true
	case TrendAverage:
		return sum / float64(count), true
	default:
		return sum, true
	}
}
