// Package planner partitions record indices into bounded-size jobs.
package planner

import (
	"fmt"
	"sort"

	"github.com/jackzampolin/roundup/internal/ledger"
)

// DefaultBatchSize bounds rows per job when none is configured.
const DefaultBatchSize = 20

// Plan creates contiguous jobs covering [start, end) in chunks of size and
// adds them to the ledger. Jobs whose names already exist are left
// untouched, so planning the same range twice creates nothing new.
// Returns the number of jobs added.
func Plan(l *ledger.Ledger, start, end, size, maxAttempts int) int {
	if size <= 0 {
		size = DefaultBatchSize
	}

	added := 0
	num := 1
	for current := start; current < end; {
		chunkEnd := current + size
		if chunkEnd > end {
			chunkEnd = end
		}
		name := fmt.Sprintf("batch_%03d", num)
		if l.Add(ledger.NewJob(name, current, chunkEnd, maxAttempts, nil)) {
			added++
		}
		current = chunkEnd
		num++
	}
	return added
}

// PlanIndices groups arbitrary record indices into jobs of at most size
// rows each. Indices are sorted and deduplicated first; each job covers
// [min, max+1) of its group and carries the explicit index list so the
// encoder only submits the missing rows. Jobs are named rescue_NNN,
// numbered after any already present, so repeated rescue rounds never
// collide. Returns the number of jobs added.
func PlanIndices(l *ledger.Ledger, indices []int, size, maxAttempts int) int {
	if len(indices) == 0 {
		return 0
	}
	if size <= 0 {
		size = DefaultBatchSize
	}

	sorted := append([]int{}, indices...)
	sort.Ints(sorted)
	deduped := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			deduped = append(deduped, v)
		}
	}

	num := nextRescueNumber(l)
	added := 0
	for off := 0; off < len(deduped); off += size {
		hi := off + size
		if hi > len(deduped) {
			hi = len(deduped)
		}
		group := append([]int{}, deduped[off:hi]...)
		name := fmt.Sprintf("rescue_%03d", num)
		job := ledger.NewJob(name, group[0], group[len(group)-1]+1, maxAttempts, group)
		if l.Add(job) {
			added++
		}
		num++
	}
	return added
}

func nextRescueNumber(l *ledger.Ledger) int {
	num := 1
	for _, j := range l.Jobs {
		var n int
		if _, err := fmt.Sscanf(j.Name, "rescue_%d", &n); err == nil && n >= num {
			num = n + 1
		}
	}
	return num
}
