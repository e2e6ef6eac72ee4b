package store

import (
	"sync"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// seriesLockTable gives "many readers, single writer per series_key"
// (spec.md §4.1, §5) without serializing writes to different series: each
// series_key gets its own mutex, created lazily.
type seriesLockTable struct {
	mu    sync.Mutex
	locks map[types.SeriesKey]*sync.Mutex
}

func newSeriesLockTable() *seriesLockTable {
	return &seriesLockTable{locks: make(map[types.SeriesKey]*sync.Mutex)}
}

func (t *seriesLockTable) lock(key types.SeriesKey) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
