package runner

import "time"

// rampBatches is how many batches the ramp-up is split into.
const rampBatches = 10

// batch is a contiguous range of connection indexes launched together.
type batch struct {
	first int
	count int
}

// rampPlan splits n connections into at most rampBatches batches whose
// sizes differ by at most one, larger batches first.
func rampPlan(n int) []batch {
	if n <= 0 {
		return nil
	}
	batches := rampBatches
	if n < batches {
		batches = n
	}
	base, extra := n/batches, n%batches

	plan := make([]batch, 0, batches)
	next := 0
	for i := 0; i < batches; i++ {
		size := base
		if i < extra {
			size++
		}
		plan = append(plan, batch{first: next, count: size})
		next += size
	}
	return plan
}

// batchDelay is the pause between consecutive batch launches.
func batchDelay(rampUp time.Duration) time.Duration {
	if rampUp <= 0 {
		return 0
	}
	return rampUp / rampBatches
}
