package classifier

import (
	"container/list"
)

// lruCache keeps classification results under a byte budget, evicting
// the least recently used entry when over. The key is the canonical
// statement plus the sql_mode and server version it was classified
// under.
type lruCache struct {
	budget int
	used   int
	order  *list.List // front = most recent
	items  map[string]*list.Element
}

type lruEntry struct {
	key  string
	size int
	a    *analysis
}

func newLRUCache(budget int) *lruCache {
	return &lruCache{
		budget: budget,
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) *analysis {
	el, ok := c.items[key]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).a
}

func (c *lruCache) put(key string, a *analysis) {
	if c.budget <= 0 {
		return
	}
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*lruEntry).a = a
		return
	}
	size := len(key) + a.approxSize()
	if size > c.budget {
		return // never cache something bigger than the whole budget
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, size: size, a: a})
	c.used += size
	for c.used > c.budget {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*lruEntry)
		c.order.Remove(oldest)
		delete(c.items, entry.key)
		c.used -= entry.size
	}
}

// approxSize estimates the retained bytes of a classification result.
func (a *analysis) approxSize() int {
	n := 64 + len(a.canonical) + len(a.prepareName) + len(a.preparable) + len(a.createdTable)
	for _, t := range a.tables {
		n += len(t.db) + len(t.table) + 16
	}
	for _, d := range a.databases {
		n += len(d) + 16
	}
	for _, f := range a.fields {
		n += len(f.Db) + len(f.Table) + len(f.Column) + 24
	}
	for _, fn := range a.functions {
		n += len(fn.Name) + 24 + 24*len(fn.Fields)
	}
	return n
}
