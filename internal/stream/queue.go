package stream

import "container/heap"

// Compile time check to ensure downloadQueue satisfies the heap interface.
var _ heap.Interface = (*downloadQueue)(nil)

// queueItem is one schedulable chunk download.
type queueItem struct {
	id       string
	priority float64
	index    int
}

// downloadQueue is a max-heap of pending downloads ordered by priority.
type downloadQueue struct {
	items []*queueItem
}

func (q *downloadQueue) Len() int { return len(q.items) }

func (q *downloadQueue) Less(i, j int) bool {
	return q.items[i].priority > q.items[j].priority
}

func (q *downloadQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index, q.items[j].index = i, j
}

func (q *downloadQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
}

func (q *downloadQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	q.items = old[:n-1]
	return item
}
