// Package metrics aggregates the measurements of a benchmark run.
//
// An [Aggregator] is shared by every connection worker. It owns three
// independently synchronized pieces of state:
//
//   - [Counters]: lock-free run counters (requests issued, responses
//     resolved, active and completed connections).
//   - the latency store: running sum/min/max plus an HDR histogram for
//     percentiles, guarded by its own mutex.
//   - the error tally: a map from [ErrorKind] to count, guarded by a
//     separate mutex.
//
// No method holds more than one of these locks at a time.
//
//	agg := metrics.NewAggregator()
//	agg.RecordRequest()
//	agg.RecordSuccess(12 * time.Millisecond)
//	agg.RecordError(metrics.ReadError)
//	summary := agg.Summarize(start, time.Now())
//
// [Summary] is an immutable snapshot computed once when the run ends.
package metrics
