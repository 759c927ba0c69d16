package platform

import "time"

// clockEntry is one armed one-shot alarm.
type clockEntry struct {
	key     string
	planID  string
	at      time.Time
	exact   bool
	snoozed bool
	payload []byte
	index   int
}

// alarmHeap implements container/heap.Interface ordered by trigger instant
// (earliest first).
type alarmHeap []*clockEntry

func (h alarmHeap) Len() int { return len(h) }

func (h alarmHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].key < h[j].key
	}
	return h[i].at.Before(h[j].at)
}

func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *alarmHeap) Push(x any) {
	e := x.(*clockEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
