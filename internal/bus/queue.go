package bus

import "github.com/fentz26/cfagents/internal/models"

// entry is a queued message keyed by (priority, seq). Message bodies are
// never compared.
type entry struct {
	priority models.Priority
	seq      uint64
	msg      models.Message
}

// messageHeap implements heap.Interface as a min-heap over (priority, seq).
type messageHeap []entry

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
