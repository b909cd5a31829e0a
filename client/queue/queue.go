package queue

import (
	"errors"
	"math/rand"
	"sync"
)

var ErrEmpty = errors.New("queue is empty")

// Queue is an ordered track queue with an optional bounded history of
// dequeued items. All mutations are serialized by a single per-queue
// mutex; accessors hand out point-in-time copies, never live views.
type Queue struct {
	mu      sync.Mutex
	items   []Item
	history *History
}

// New creates a queue whose history keeps up to historyCapacity
// dequeued items. A capacity of zero disables the history.
func New(historyCapacity int) *Queue {
	return &Queue{history: NewHistory(historyCapacity)}
}

// Enqueue appends an item and returns its zero-based position.
func (q *Queue) Enqueue(item Item) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	return len(q.items) - 1
}

// Dequeue removes and returns the next item. With shuffle set it picks
// a uniformly random index instead of the head. The removed item is
// pushed onto the history.
func (q *Queue) Dequeue(shuffle bool) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Item{}, ErrEmpty
	}

	index := 0
	if shuffle {
		index = rand.Intn(len(q.items))
	}

	item := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	q.history.Push(item)
	return item, nil
}

// Distinct removes items whose identifier duplicates an earlier item's,
// keeping the first occurrence. It returns the number removed and is
// idempotent.
func (q *Queue) Distinct() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]struct{}, len(q.items))
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		id := item.Reference.Identifier()
		if _, ok := seen[id]; ok {
			removed++
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Shuffle runs an in-place Fisher-Yates shuffle over items[index:index+count].
func (q *Queue) Shuffle(index, count int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || count <= 1 || index+count > len(q.items) {
		return
	}

	sub := q.items[index : index+count]
	for i := len(sub) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		sub[i], sub[j] = sub[j], sub[i]
	}
}

// InsertRange inserts items at the given position.
func (q *Queue) InsertRange(index int, items []Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 {
		index = 0
	}
	if index > len(q.items) {
		index = len(q.items)
	}

	q.items = append(q.items[:index], append(append([]Item{}, items...), q.items[index:]...)...)
}

// RemoveRange removes count items starting at index.
func (q *Queue) RemoveRange(index, count int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || count <= 0 || index >= len(q.items) {
		return
	}
	if index+count > len(q.items) {
		count = len(q.items) - index
	}

	q.items = append(q.items[:index], q.items[index+count:]...)
}

// RemoveAll removes every item matching the predicate and returns the
// number removed.
func (q *Queue) RemoveAll(match func(Item) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if match(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) IsEmpty() bool {
	return q.Count() == 0
}

// Items returns a snapshot copy of the queue contents.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Peek returns the head item without removing it.
func (q *Queue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// HistorySize returns the number of items currently retained in the
// history.
func (q *Queue) HistorySize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.Size()
}

// HistoryItems returns a snapshot copy of the history, oldest first.
func (q *Queue) HistoryItems() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.Items()
}

// PopHistory removes and returns the most recently dequeued item.
func (q *Queue) PopHistory() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.Pop()
}

// Clone copies queue and history under the source's lock. The clone
// shares no mutable state with the original.
func (q *Queue) Clone() *Queue {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := &Queue{history: q.history.clone()}
	if len(q.items) > 0 {
		c.items = make([]Item, len(q.items))
		copy(c.items, q.items)
	}
	return c
}
