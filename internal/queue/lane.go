package queue

import (
	"container/heap"
	"time"
)

// jobHeap orders waiting jobs by priority, then enqueue order.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]
	return job
}

// lane holds the jobs of one type inside a queue. All fields except notify
// are guarded by the queue mutex.
type lane struct {
	jobType     string
	ready       jobHeap
	delayed     []*Job
	handler     Handler
	concurrency int
	started     bool
	notify      chan struct{}
}

func newLane(jobType string) *lane {
	return &lane{jobType: jobType, notify: make(chan struct{}, 1)}
}

// signal wakes one idle worker without blocking.
func (l *lane) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *lane) push(job *Job) {
	job.Status = StatusWaiting
	heap.Push(&l.ready, job)
	l.signal()
}

func (l *lane) pop() *Job {
	if l.ready.Len() == 0 {
		return nil
	}
	job := heap.Pop(&l.ready).(*Job)
	if l.ready.Len() > 0 {
		l.signal()
	}
	return job
}

func (l *lane) delay(job *Job, until time.Time) {
	job.Status = StatusDelayed
	job.readyAt = until
	l.delayed = append(l.delayed, job)
	l.signal()
}

// promote moves due delayed jobs into the ready heap.
func (l *lane) promote(now time.Time) {
	kept := l.delayed[:0]
	for _, job := range l.delayed {
		if !job.readyAt.After(now) {
			job.Status = StatusWaiting
			heap.Push(&l.ready, job)
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(l.delayed); i++ {
		l.delayed[i] = nil
	}
	l.delayed = kept
}

// nextWake returns how long until the earliest delayed job is due, or -1.
func (l *lane) nextWake(now time.Time) time.Duration {
	wait := time.Duration(-1)
	for _, job := range l.delayed {
		d := job.readyAt.Sub(now)
		if d < 0 {
			d = 0
		}
		if wait < 0 || d < wait {
			wait = d
		}
	}
	return wait
}
