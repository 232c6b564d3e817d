// Implements the TriageQueue, which holds patients waiting for a free
// server. Unlike a plain FIFO, the queue is ordered by priority: when
// capacity frees up, the most urgent waiting patient is served next, with
// arrival order breaking ties among equal priorities.

package sim

import "container/heap"

// waitingPatient is a patient that has arrived, been triaged, and is
// waiting for (or holding) a server.
type waitingPatient struct {
	enc        *Encounter
	priority   int
	info       PriorityInfo
	serviceMin float64
	arrivalMin float64
	seq        int64 // arrival sequence, used as the stable tie-breaker
}

// TriageQueue is a priority-ordered waiting list. Lower numeric priority is
// more urgent and is popped first; equal priorities pop in arrival order.
type TriageQueue struct {
	items waitHeap
}

// NewTriageQueue creates an empty waiting list.
func NewTriageQueue() *TriageQueue {
	return &TriageQueue{}
}

// Push adds a waiting patient.
func (q *TriageQueue) Push(w *waitingPatient) {
	heap.Push(&q.items, w)
}

// Pop removes and returns the most urgent waiting patient, or nil when the
// queue is empty.
func (q *TriageQueue) Pop() *waitingPatient {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*waitingPatient)
}

// Len returns the number of waiting patients.
func (q *TriageQueue) Len() int {
	return len(q.items)
}

// waitHeap orders by (priority asc, arrival seq asc).
type waitHeap []*waitingPatient

func (h waitHeap) Len() int { return len(h) }

func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *waitHeap) Push(x any) {
	*h = append(*h, x.(*waitingPatient))
}

func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}
