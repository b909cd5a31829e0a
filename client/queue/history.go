package queue

// History is a capped stack of dequeued items: newest retrievable
// first, oldest evicted first once the capacity is reached. A capacity
// of zero disables it entirely.
type History struct {
	items    []Item
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{capacity: capacity}
}

func (h *History) Capacity() int {
	return h.capacity
}

func (h *History) Size() int {
	return len(h.items)
}

// Push records a dequeued item, evicting the oldest entry if the
// history is full. It is a no-op when the capacity is zero.
func (h *History) Push(item Item) {
	if h.capacity == 0 {
		return
	}
	if len(h.items) >= h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, item)
}

// Pop removes and returns the most recently pushed item.
func (h *History) Pop() (Item, bool) {
	if len(h.items) == 0 {
		return Item{}, false
	}
	item := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return item, true
}

// Peek returns the most recently pushed item without removing it.
func (h *History) Peek() (Item, bool) {
	if len(h.items) == 0 {
		return Item{}, false
	}
	return h.items[len(h.items)-1], true
}

// Items returns a copy of the history, oldest first.
func (h *History) Items() []Item {
	out := make([]Item, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Clear() {
	h.items = nil
}

func (h *History) clone() *History {
	c := &History{capacity: h.capacity}
	if len(h.items) > 0 {
		c.items = make([]Item, len(h.items))
		copy(c.items, h.items)
	}
	return c
}
