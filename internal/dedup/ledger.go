package dedup

import (
	"container/list"
	"sync"
	"time"
)

// Config holds ledger configuration.
type Config struct {
	Capacity int           // Max keys retained (default: 1024)
	TTL      time.Duration // Max age of a key (default: 30m, 0 = no age limit)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity: 1024,
		TTL:      30 * time.Minute,
	}
}

// entry is a key and the time it was inserted.
type entry struct {
	key string
	at  time.Time
}

// Ledger is a bounded, insertion-ordered set of recently seen keys.
type Ledger struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	order *list.List               // oldest at front
	index map[string]*list.Element // key -> element in order

	evicted int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a new Ledger.
func New(cfg Config, opts ...Option) *Ledger {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	l := &Ledger{
		cfg:   cfg,
		now:   time.Now,
		order: list.New(),
		index: make(map[string]*list.Element, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndInsert records key and reports whether it was newly inserted.
// It returns false if key is already present (a duplicate).
func (l *Ledger) CheckAndInsert(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.expireLocked(now)

	if _, ok := l.index[key]; ok {
		return false
	}

	l.index[key] = l.order.PushBack(entry{key: key, at: now})

	for l.order.Len() > l.cfg.Capacity {
		l.removeLocked(l.order.Front())
		l.evicted++
	}

	return true
}

// Contains reports whether key is present and not expired.
func (l *Ledger) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked(l.now())
	_, ok := l.index[key]
	return ok
}

// Forget removes key so that a later copy can be delivered again.
func (l *Ledger) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.index[key]; ok {
		l.removeLocked(el)
	}
}

// Len returns the number of live keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked(l.now())
	return l.order.Len()
}

// Evicted returns how many keys were dropped for capacity.
func (l *Ledger) Evicted() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evicted
}

// expireLocked drops keys older than TTL. Keys are ordered by insertion time,
// so it stops at the first live one.
func (l *Ledger) expireLocked(now time.Time) {
	if l.cfg.TTL <= 0 {
		return
	}
	cutoff := now.Add(-l.cfg.TTL)
	for el := l.order.Front(); el != nil; el = l.order.Front() {
		if el.Value.(entry).at.After(cutoff) {
			return
		}
		l.removeLocked(el)
	}
}

func (l *Ledger) removeLocked(el *list.Element) {
	e := l.order.Remove(el).(entry)
	delete(l.index, e.key)
}
