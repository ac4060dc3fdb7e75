// Package store implements the shared table the rest of cachettl reads
// and writes: a sharded concurrent map from key to Record, plus the
// process-global refresh interval published once at startup.
package store

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cuemby/cachettl/pkg/producer"
)

// Status is whether a Record has ever been populated with a
// successfully computed value.
type Status int

const (
	StatusBusy Status = iota
	StatusReady
)

func (s Status) String() string {
	if s == StatusReady {
		return "ready"
	}
	return "busy"
}

type keyKind uint8

const (
	kindString keyKind = iota
	kindInt
	kindSymbol
)

// Key is the string-or-number-or-symbol union the spec allows as a
// cache key. It is a plain comparable struct, so it works directly as
// a Go map key without boxing through interface{}.
type Key struct {
	kind keyKind
	s    string
	n    int64
}

// StringKey builds a Key from a string.
func StringKey(s string) Key { return Key{kind: kindString, s: s} }

// IntKey builds a Key from an integer.
func IntKey(n int64) Key { return Key{kind: kindInt, n: n} }

// Symbol builds a Key from an atom-like name, distinct from a string
// key with the same text (mirrors the source language's separate
// symbol type).
func Symbol(s string) Key { return Key{kind: kindSymbol, s: s} }

func (k Key) String() string {
	switch k.kind {
	case kindString:
		return k.s
	case kindInt:
		return strconv.FormatInt(k.n, 10)
	case kindSymbol:
		return ":" + k.s
	default:
		return "<invalid key>"
	}
}

func (k Key) bytes() []byte {
	switch k.kind {
	case kindString:
		return []byte(k.s)
	case kindSymbol:
		return append([]byte{':'}, k.s...)
	default:
		return strconv.AppendInt(nil, k.n, 10)
	}
}

// Record is the Store's unit of storage: one per live key.
type Record struct {
	Key       Key
	Recipe    producer.Recipe
	Value     any
	Timestamp int64
	Status    Status
}

// FieldUpdate mutates a subset of a Record's fields. UpdateFields
// applies a batch of these under a single shard lock, so readers never
// observe a partial write.
type FieldUpdate func(*Record)

func WithRecipe(r producer.Recipe) FieldUpdate {
	return func(rec *Record) { rec.Recipe = r }
}

func WithValue(v any) FieldUpdate {
	return func(rec *Record) { rec.Value = v }
}

func WithTimestamp(ts int64) FieldUpdate {
	return func(rec *Record) { rec.Timestamp = ts }
}

func WithStatus(s Status) FieldUpdate {
	return func(rec *Record) { rec.Status = s }
}

const defaultShardCount = 32

type shard struct {
	mu   sync.RWMutex
	data map[Key]*Record
}

// Store is the shared, read-optimized table mapping key to Record. It
// is split into independently-locked shards so readers and writers on
// different keys never contend, matching the "read-concurrent and
// write-concurrent" requirement on the table.
type Store struct {
	shards []*shard
	mask   uint64
	clock  int64
}

// New creates a Store with shardCount shards, rounded up to the next
// power of two. shardCount <= 0 selects a default of 32.
func New(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{data: make(map[Key]*Record)}
	}
	return &Store{shards: shards, mask: uint64(n - 1)}
}

func (s *Store) shardFor(key Key) *shard {
	h := xxhash.Sum64(key.bytes())
	return s.shards[h&s.mask]
}

// NextTimestamp returns a fresh, strictly increasing tick. It backs
// every installed recipe's Timestamp field, so the Store itself is the
// authority on ordering between successive stores of the same key.
func (s *Store) NextTimestamp() int64 {
	return atomic.AddInt64(&s.clock, 1)
}

// Member reports whether key currently has a live Record.
func (s *Store) Member(key Key) bool {
	_, ok := s.Lookup(key)
	return ok
}

// Lookup returns a point-in-time copy of the Record for key. Because
// the copy is taken under the shard's read lock, callers never observe
// a torn write from a concurrent UpdateFields.
func (s *Store) Lookup(key Key) (Record, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.data[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// UpdateFields applies every update atomically, or none if key is
// absent. It reports false iff the key was absent.
func (s *Store) UpdateFields(key Key, updates ...FieldUpdate) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.data[key]
	if !ok {
		return false
	}
	for _, u := range updates {
		u(rec)
	}
	return true
}

// InsertNew creates a fresh busy Record for key, failing if one
// already exists.
func (s *Store) InsertNew(key Key, recipe producer.Recipe, timestamp int64) (Record, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.data[key]; exists {
		return Record{}, false
	}
	rec := &Record{Key: key, Recipe: recipe, Value: nil, Timestamp: timestamp, Status: StatusBusy}
	sh.data[key] = rec
	return *rec, true
}

// Delete removes key's Record, reporting false if it was already gone.
func (s *Store) Delete(key Key) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.data[key]; !ok {
		return false
	}
	delete(sh.data, key)
	return true
}

// Len returns the number of live keys, for metrics only; it is not
// part of the spec's Store contract (no iteration contract is
// required) and callers must not rely on it for correctness.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.data)
		sh.mu.RUnlock()
	}
	return total
}

// The refresh interval is the one process-global constant kept here
// (Workers carry their own copy of the interval and do not read it).
// It is write-once at startup and read
// thereafter with no locking beyond Go's memory model guarantee for a
// value published before any goroutine observes it, mirroring the
// "process-global mutable startup constants" note preserved from the
// source design.
var (
	globalOnce  sync.Once
	refreshMs   int64
	globalReady atomic.Bool
)

// InitGlobals sets the process-wide refresh interval exactly once.
// Subsequent calls are no-ops.
func InitGlobals(refreshInterval time.Duration) {
	globalOnce.Do(func() {
		refreshMs = refreshInterval.Milliseconds()
		globalReady.Store(true)
	})
}

// RefreshIntervalMS returns the refresh interval in milliseconds. It
// panics if InitGlobals has not run, rather than returning a zero
// interval.
func RefreshIntervalMS() int64 {
	if !globalReady.Load() {
		panic("store: RefreshIntervalMS called before InitGlobals")
	}
	return refreshMs
}
