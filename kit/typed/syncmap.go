// Package typed holds type-parameterized wrappers around untyped sync
// primitives.
package typed

import "sync"

// SyncMap is a sync.Map with typed keys and values. The zero value is empty
// and ready for use.
type SyncMap[K comparable, V any] struct {
	m sync.Map
}

func (sm *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	v, ok := sm.m.Load(key)
	if !ok {
		return value, false
	}
	return v.(V), true
}

func (sm *SyncMap[K, V]) Store(key K, value V) {
	sm.m.Store(key, value)
}

func (sm *SyncMap[K, V]) Delete(key K) {
	sm.m.Delete(key)
}

func (sm *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := sm.m.LoadOrStore(key, value)
	return v.(V), loaded
}

func (sm *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	sm.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Len counts the entries. It walks the whole map.
func (sm *SyncMap[K, V]) Len() int {
	n := 0
	sm.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
