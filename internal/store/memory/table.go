package memory

// table holds committed rows.
type table[K comparable, V any] struct {
	rows map[K]V
}

func newTable[K comparable, V any]() *table[K, V] {
	return &table[K, V]{rows: make(map[K]V)}
}

// overlay stages writes against a table until commit.
type overlay[K comparable, V any] struct {
	base  *table[K, V]
	puts  map[K]V
	dels  map[K]struct{}
	clone func(V) V
}

func newOverlay[K comparable, V any](base *table[K, V], clone func(V) V) *overlay[K, V] {
	return &overlay[K, V]{
		base:  base,
		puts:  make(map[K]V),
		dels:  make(map[K]struct{}),
		clone: clone,
	}
}

func (o *overlay[K, V]) get(k K) (V, bool) {
	if v, ok := o.puts[k]; ok {
		return o.clone(v), true
	}
	if _, ok := o.dels[k]; ok {
		var zero V
		return zero, false
	}
	v, ok := o.base.rows[k]
	if !ok {
		return v, false
	}
	return o.clone(v), true
}

func (o *overlay[K, V]) put(k K, v V) {
	delete(o.dels, k)
	o.puts[k] = o.clone(v)
}

func (o *overlay[K, V]) del(k K) {
	delete(o.puts, k)
	o.dels[k] = struct{}{}
}

// each visits the merged view. Order is unspecified.
func (o *overlay[K, V]) each(fn func(K, V)) {
	for k, v := range o.base.rows {
		if _, deleted := o.dels[k]; deleted {
			continue
		}
		if _, staged := o.puts[k]; staged {
			continue
		}
		fn(k, o.clone(v))
	}
	for k, v := range o.puts {
		fn(k, o.clone(v))
	}
}

func (o *overlay[K, V]) commit() {
	for k := range o.dels {
		delete(o.base.rows, k)
	}
	for k, v := range o.puts {
		o.base.rows[k] = v
	}
}

func identity[V any](v V) V { return v }
