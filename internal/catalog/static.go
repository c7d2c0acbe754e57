package catalog

import (
	"context"
	"sync"
)

// StaticLookup serves a fixed set of entries from memory.
type StaticLookup struct {
	mu      sync.RWMutex
	local   map[string]*Entry
	std     map[string]*Entry
	byName  map[string]*Entry
	entries []Entry
}

func NewStaticLookup(entries ...Entry) *StaticLookup {
	l := &StaticLookup{}
	l.Replace(entries)
	return l
}

// Replace swaps the whole entry set. On duplicate keys the earlier entry
// wins.
func (l *StaticLookup) Replace(entries []Entry) {
	local := make(map[string]*Entry, len(entries))
	std := make(map[string]*Entry, len(entries))
	byName := make(map[string]*Entry, len(entries))

	stored := make([]Entry, len(entries))
	copy(stored, entries)
	for i := range stored {
		e := &stored[i]
		putIfAbsent(local, e.LocalCode, e)
		putIfAbsent(std, e.StandardCode, e)
		putIfAbsent(byName, e.Name, e)
	}

	l.mu.Lock()
	l.local, l.std, l.byName, l.entries = local, std, byName, stored
	l.mu.Unlock()
}

func putIfAbsent(m map[string]*Entry, key string, e *Entry) {
	k := normalize(key)
	if k == "" {
		return
	}
	if _, exists := m[k]; !exists {
		m[k] = e
	}
}

func (l *StaticLookup) find(m func() map[string]*Entry, key string) *Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := m()[normalize(key)]
	if !ok {
		return nil
	}
	found := *e
	return &found
}

func (l *StaticLookup) FindByLocalCode(_ context.Context, code string) (*Entry, error) {
	return l.find(func() map[string]*Entry { return l.local }, code), nil
}

func (l *StaticLookup) FindByStandardCode(_ context.Context, code string) (*Entry, error) {
	return l.find(func() map[string]*Entry { return l.std }, code), nil
}

func (l *StaticLookup) FindByName(_ context.Context, name string) (*Entry, error) {
	return l.find(func() map[string]*Entry { return l.byName }, name), nil
}
