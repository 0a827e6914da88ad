package transcode

import "time"

// queuedJob is one heap entry. seq breaks priority ties so equal-priority
// jobs leave the queue in submission order.
type queuedJob struct {
	jobID       string
	mediaID     string
	priority    int
	submittedAt time.Time
	seq         uint64
	index       int
}

// jobHeap orders by priority (higher first), then submission sequence.
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	item := x.(*queuedJob)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
