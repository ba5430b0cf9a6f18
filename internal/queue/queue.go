// Package queue implements the in-memory admission queue for the worker
// pool: highest priority first, FIFO within a priority tier.
package queue

import (
	"container/heap"
	"sync"

	"github.com/podworks/podworks/internal/domain"
)

type item struct {
	job *domain.Job
	seq uint64 // tie-break: submission order within a tier
	idx int
}

type jobHeap []*item

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	pi, pj := h[i].job.Priority.Rank(), h[j].job.Priority.Rank()
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *jobHeap) Push(x any) {
	it := x.(*item)
	it.idx = len(*h)
	*h = append(*h, it)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is safe for concurrent use by the API (push, remove) and the
// worker pool (pop).
type Queue struct {
	mu    sync.Mutex
	heap  jobHeap
	index map[string]*item
	seq   uint64
}

func New() *Queue {
	return &Queue{index: make(map[string]*item)}
}

func (q *Queue) Push(job *domain.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[job.ID]; ok {
		return
	}
	it := &item{job: job, seq: q.seq}
	q.seq++
	heap.Push(&q.heap, it)
	q.index[job.ID] = it
}

// Pop returns the highest-priority job, or nil when the queue is empty.
func (q *Queue) Pop() *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.index, it.job.ID)
	return it.job
}

// Remove takes a pending job out of the queue before it is dequeued.
// Returns false if the job is not queued (already claimed or unknown).
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, it.idx)
	delete(q.index, id)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
