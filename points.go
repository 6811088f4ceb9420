package probe_scheduler

import (
	"container/heap"
	"time"
)

// pointHeap 调度时间点的小顶堆，时间最早的调度点放到堆顶
type pointHeap []time.Time

func (h *pointHeap) Len() int {
	return len(*h)
}

func (h *pointHeap) Less(i, j int) bool {
	return (*h)[i].Before((*h)[j])
}

func (h *pointHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
}

func (h *pointHeap) Push(x interface{}) {
	*h = append(*h, x.(time.Time))
}

func (h *pointHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// pointQueue 调度点队列，同一时刻只会被求值一次
type pointQueue struct {
	h    pointHeap
	seen map[int64]struct{}
}

func newPointQueue(size int) *pointQueue {
	return &pointQueue{
		h:    make(pointHeap, 0, size),
		seen: make(map[int64]struct{}, size),
	}
}

// push 加入调度点，已经存在或已经处理过的时间点返回false
func (q *pointQueue) push(t time.Time) bool {
	key := t.UnixNano()
	if _, ok := q.seen[key]; ok {
		return false
	}
	q.seen[key] = struct{}{}
	heap.Push(&q.h, t)
	return true
}

func (q *pointQueue) pop() time.Time {
	return heap.Pop(&q.h).(time.Time)
}

func (q *pointQueue) empty() bool {
	return q.h.Len() == 0
}
