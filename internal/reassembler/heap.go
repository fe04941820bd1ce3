package reassembler

import "container/heap"

// sessionHeap is a container/heap min-heap of *session ordered by
// opened_at, used to find and evict the oldest session when the
// concurrent-session cap is exceeded.
type sessionHeap []*session

func (h sessionHeap) Len() int { return len(h) }

func (h sessionHeap) Less(i, j int) bool {
	return h[i].opened.Before(h[j].opened)
}

func (h sessionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *sessionHeap) Push(x any) {
	s := x.(*session)
	s.heapIndex = len(*h)
	*h = append(*h, s)
}

func (h *sessionHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.heapIndex = -1
	*h = old[:n-1]
	return s
}

// peek returns the oldest session without removing it, or nil if empty.
func (h *sessionHeap) peek() *session {
	if h.Len() == 0 {
		return nil
	}
	return (*h)[0]
}

// remove drops s from the heap in O(log n), used when a session is
// completed, replaced, or abandoned out of opened_at order.
func (h *sessionHeap) remove(s *session) {
	if s.heapIndex < 0 || s.heapIndex >= h.Len() || (*h)[s.heapIndex] != s {
		return
	}
	heap.Remove(h, s.heapIndex)
}
