package database

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ezyang/scubaduck/query"
)

const (
	defaultSampleCacheSize = 200
	defaultSampleCacheTTL  = 60 * time.Second
	sampleLimit            = 20
)

type sampleKey struct {
	table  string
	column string
	substr string
}

type sampleEntry struct {
	key     sampleKey
	values  []string
	touched time.Time
}

// SampleCache memoizes autocomplete lookups per (table, column, substring).
// Entries expire 60 seconds after their last access; on overflow the entry
// with the oldest last access is evicted. A single mutex guards the whole
// structure; every operation is O(1) amortized.
type SampleCache struct {
	mu      sync.Mutex
	entries map[sampleKey]*list.Element
	order   *list.List // front: most recently touched
	size    int
	ttl     time.Duration
	now     func() time.Time
}

// NewSampleCache builds a cache; zero size or ttl select the defaults.
func NewSampleCache(size int, ttl time.Duration) *SampleCache {
	if size <= 0 {
		size = defaultSampleCacheSize
	}
	if ttl <= 0 {
		ttl = defaultSampleCacheTTL
	}
	return &SampleCache{
		entries: make(map[sampleKey]*list.Element),
		order:   list.New(),
		size:    size,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *SampleCache) get(key sampleKey) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*sampleEntry)
	entry.touched = c.now()
	c.order.MoveToFront(el)
	return entry.values, true
}

func (c *SampleCache) put(key sampleKey, values []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*sampleEntry)
		entry.values = values
		entry.touched = c.now()
		c.order.MoveToFront(el)
		return
	}
	for len(c.entries) >= c.size {
		c.evictOldestLocked()
	}
	el := c.order.PushFront(&sampleEntry{key: key, values: values, touched: c.now()})
	c.entries[key] = el
}

func (c *SampleCache) expireLocked() {
	cutoff := c.now().Add(-c.ttl)
	for el := c.order.Back(); el != nil; {
		entry := el.Value.(*sampleEntry)
		if entry.touched.After(cutoff) {
			break
		}
		prev := el.Prev()
		c.order.Remove(el)
		delete(c.entries, entry.key)
		el = prev
	}
}

func (c *SampleCache) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*sampleEntry)
	c.order.Remove(el)
	delete(c.entries, entry.key)
}

// SetSampleCache replaces the autocomplete cache policy. Call before
// serving requests.
func (d *Database) SetSampleCache(size int, ttl time.Duration) {
	d.samples = NewSampleCache(size, ttl)
}

// SampleValues returns up to 20 distinct values of a string column matching
// the substring, case-insensitively. Non-string columns return empty
// without touching the engine.
func (d *Database) SampleValues(ctx context.Context, table, column, substr string) ([]string, error) {
	types, ok := d.catalog.Types(table)
	if !ok {
		return nil, &query.SchemaError{Message: fmt.Sprintf("Unknown table: %s", table)}
	}
	ctype, ok := types[column]
	if !ok {
		return nil, &query.SchemaError{Message: fmt.Sprintf("Unknown column: %s", column)}
	}
	if query.ClassOf(ctype) != query.ClassString {
		return []string{}, nil
	}

	key := sampleKey{table: table, column: column, substr: substr}
	if values, ok := d.samples.get(key); ok {
		return values, nil
	}

	col := query.QuoteIdentifier(column)
	pattern := "'%" + strings.ReplaceAll(substr, "'", "''") + "%'"
	sqlText := fmt.Sprintf(
		"SELECT DISTINCT CAST(%s AS VARCHAR) AS v FROM %s WHERE CAST(%s AS VARCHAR) ILIKE %s ORDER BY v LIMIT %d",
		col, query.QuoteIdentifier(table), col, pattern, sampleLimit)
	rows, err := d.Query(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(rows))
	for _, r := range rows {
		if len(r) > 0 && r[0] != nil {
			values = append(values, fmt.Sprint(r[0]))
		}
	}
	d.samples.put(key, values)
	return values, nil
}
