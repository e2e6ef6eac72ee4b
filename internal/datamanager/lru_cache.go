package datamanager

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// frameCacheKey identifies one loadData result: (series_key, [t0,t1], mode).
type frameCacheKey struct {
	series types.SeriesKey
	start  time.Time
	end    time.Time
	mode   LoadMode
}

func (k frameCacheKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.series.String(), k.start, k.end, k.mode)
}

type frameCacheEntry struct {
	key     frameCacheKey
	rows    []types.Bar
	report  QualityReport
	element *list.Element
}

// frameLRU is the primary cache from spec.md §4.3 ("in-process LRU keyed
// by (series_key,[t0,t1],mode); entries invalidated on any upsertBars
// touching the series"). Grounded on the teacher's historical/service.go
// cache (map + RWMutex + manual eviction), generalized from
// oldest-insertion eviction to true least-recently-used eviction via a
// list.List recency ring, and keyed per-series instead of globally so a
// write to one series_key invalidates only that series' entries.
type frameLRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[frameCacheKey]*list.Element
	bySeries map[types.SeriesKey]map[frameCacheKey]struct{}
}

func newFrameLRU(capacity int) *frameLRU {
	if capacity <= 0 {
		capacity = 256
	}
	return &frameLRU{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[frameCacheKey]*list.Element),
		bySeries: make(map[types.SeriesKey]map[frameCacheKey]struct{}),
	}
}

func (c *frameLRU) get(key frameCacheKey) ([]types.Bar, QualityReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, QualityReport{}, false
	}
	c.ll.MoveToFront(el)
	entry := el.Value.(*frameCacheEntry)
	return entry.rows, entry.report, true
}

func (c *frameLRU) put(key frameCacheKey, rows []types.Bar, report QualityReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*frameCacheEntry).rows = rows
		el.Value.(*frameCacheEntry).report = report
		return
	}

	entry := &frameCacheEntry{key: key, rows: rows, report: report}
	entry.element = c.ll.PushFront(entry)
	c.items[key] = entry.element

	if _, ok := c.bySeries[key.series]; !ok {
		c.bySeries[key.series] = make(map[frameCacheKey]struct{})
	}
	c.bySeries[key.series][key] = struct{}{}

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.evictElement(oldest)
		}
	}
}

// invalidate drops every cached entry for series. Called after any write
// to the store for that series so stale ranges never serve stale reads.
func (c *frameLRU) invalidate(series types.SeriesKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.bySeries[series]
	if !ok {
		return
	}
	for key := range keys {
		if el, ok := c.items[key]; ok {
			c.ll.Remove(el)
			delete(c.items, key)
		}
	}
	delete(c.bySeries, series)
}

func (c *frameLRU) evictElement(el *list.Element) {
	entry := el.Value.(*frameCacheEntry)
	c.ll.Remove(el)
	delete(c.items, entry.key)
	if set, ok := c.bySeries[entry.key.series]; ok {
		delete(set, entry.key)
		if len(set) == 0 {
			delete(c.bySeries, entry.key.series)
		}
	}
}
