package scheduler

import (
	"container/heap"

	"github.com/tupyy/docjobs/pkg/document"
	"github.com/tupyy/docjobs/pkg/jobs"
)

type entry struct {
	job      jobs.Job
	priority Priority
	seq      uint64
	// doc is the document locked by the run, captured at dispatch.
	doc   *document.Handle
	index int
}

// queue is a max-heap on priority, FIFO inside a priority.
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (q *queue) push(e *entry) { heap.Push(q, e) }

func (q *queue) remove(e *entry) {
	if e.index >= 0 && e.index < q.Len() && (*q)[e.index] == e {
		heap.Remove(q, e.index)
	}
}

func (q *queue) fix(e *entry) {
	if e.index >= 0 && e.index < q.Len() && (*q)[e.index] == e {
		heap.Fix(q, e.index)
	}
}

// popRunnable removes and returns the highest-priority entry accepted by
// ok, or nil. Skipped entries keep their place.
func (q *queue) popRunnable(ok func(*entry) bool) *entry {
	var skipped []*entry
	defer func() {
		for _, e := range skipped {
			heap.Push(q, e)
		}
	}()
	for q.Len() > 0 {
		e := heap.Pop(q).(*entry)
		if ok(e) {
			return e
		}
		skipped = append(skipped, e)
	}
	return nil
}
