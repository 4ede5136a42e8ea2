package mem

// MRUCache remembers the most recently inserted lookups. A new entry pushes
// the others back and the oldest one falls out. Lookups do not reorder.
type MRUCache[K any, V any] struct {
	capacity int
	keys     []K
	values   []V
}

// NewMRUCache creates a cache that holds up to capacity entries.
func NewMRUCache[K any, V any](capacity int) *MRUCache[K, V] {
	if capacity <= 0 {
		panic("MRU cache capacity must be positive")
	}

	return &MRUCache[K, V]{
		capacity: capacity,
		keys:     make([]K, 0, capacity),
		values:   make([]V, 0, capacity),
	}
}

// Lookup returns the value of the most recent entry whose key matches.
func (c *MRUCache[K, V]) Lookup(match func(K) bool) (V, bool) {
	for i, k := range c.keys {
		if match(k) {
			return c.values[i], true
		}
	}

	var zero V

	return zero, false
}

// Insert puts an entry in front of the cache.
func (c *MRUCache[K, V]) Insert(k K, v V) {
	if len(c.keys) < c.capacity {
		var zk K
		var zv V
		c.keys = append(c.keys, zk)
		c.values = append(c.values, zv)
	}

	copy(c.keys[1:], c.keys)
	copy(c.values[1:], c.values)
	c.keys[0] = k
	c.values[0] = v
}

// Invalidate drops all the entries.
func (c *MRUCache[K, V]) Invalidate() {
	c.keys = c.keys[:0]
	c.values = c.values[:0]
}

// Len returns the number of valid entries.
func (c *MRUCache[K, V]) Len() int {
	return len(c.keys)
}
