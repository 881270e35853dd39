package plugin

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// session is a live worker connection cached under a SessionKey.
type session struct {
	key       string
	transport Transport
	lastUsed  time.Time
	elem      *list.Element
}

// SessionSnapshot is a point-in-time diagnostics view of one cached
// session.
type SessionSnapshot struct {
	SessionKey string
	IdleMillis int64
}

// SessionCache is the keyed map of live transports with LRU eviction,
// capacity cap and idle TTL. sessions and order always contain exactly the
// same set of keys; capacity is enforced on insert, idle sessions are swept
// on demand by the engine.
type SessionCache struct {
	mu       sync.Mutex
	sessions map[string]*session
	order    *list.List // front = least recently used

	maxSessions int
	idleTTL     time.Duration

	onEvictLimit func()
	onEvictIdle  func()

	keyLocks map[string]*sync.Mutex
}

// NewSessionCache builds an empty cache. onEvictLimit and onEvictIdle are
// invoked once per evicted session and are how the cache reports its
// eviction telemetry without depending on the telemetry package directly.
func NewSessionCache(maxSessions int, idleTTL time.Duration, onEvictLimit, onEvictIdle func()) *SessionCache {
	if onEvictLimit == nil {
		onEvictLimit = func() {}
	}
	if onEvictIdle == nil {
		onEvictIdle = func() {}
	}
	return &SessionCache{
		sessions:     make(map[string]*session),
		order:        list.New(),
		maxSessions:  maxSessions,
		idleTTL:      idleTTL,
		onEvictLimit: onEvictLimit,
		onEvictIdle:  onEvictIdle,
		keyLocks:     make(map[string]*sync.Mutex),
	}
}

// lockKey acquires a per-session-key mutex, serialising concurrent
// activations that share a session key regardless of whether a session
// currently exists for it. The returned function releases the lock.
func (c *SessionCache) lockKey(key string) func() {
	c.mu.Lock()
	m, ok := c.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		c.keyLocks[key] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// get returns the session for key, or nil if none is cached.
func (c *SessionCache) get(key string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[key]
}

// touch moves key to the back of the recency order (most recently used)
// and updates its last-used timestamp.
func (c *SessionCache) touch(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok {
		return
	}
	s.lastUsed = now
	c.order.MoveToBack(s.elem)
}

// insert adds or replaces the session for key. If key already has a live
// session, its transport is terminated first. enforceCapacity runs after
// insertion.
func (c *SessionCache) insert(key string, transport Transport, now time.Time) {
	c.mu.Lock()
	if existing, ok := c.sessions[key]; ok {
		c.order.Remove(existing.elem)
		delete(c.sessions, key)
		c.mu.Unlock()
		existing.transport.Terminate()
		c.mu.Lock()
	}

	s := &session{key: key, transport: transport, lastUsed: now}
	s.elem = c.order.PushBack(key)
	c.sessions[key] = s
	c.mu.Unlock()

	c.enforceCapacity()
}

// evict removes key from the cache and terminates its transport. A no-op
// if key is not cached.
func (c *SessionCache) evict(key string) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.order.Remove(s.elem)
	delete(c.sessions, key)
	c.mu.Unlock()
	s.transport.Terminate()
}

// enforceCapacity repeatedly removes the least-recently-used session until
// the cache satisfies maxSessions.
func (c *SessionCache) enforceCapacity() {
	for {
		c.mu.Lock()
		if c.order.Len() <= c.maxSessions {
			c.mu.Unlock()
			return
		}
		front := c.order.Front()
		key := front.Value.(string)
		s := c.sessions[key]
		c.order.Remove(front)
		delete(c.sessions, key)
		c.mu.Unlock()

		s.transport.Terminate()
		c.onEvictLimit()
	}
}

// sweepIdle removes every session whose idle time is at least idleTTL as
// of now, incrementing the idle-eviction counter once per removed session.
// The engine invokes this at least once per activation attempt when
// keep-alive is enabled, before session lookup.
func (c *SessionCache) sweepIdle(now time.Time) {
	var expired []*session
	c.mu.Lock()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		key := e.Value.(string)
		s := c.sessions[key]
		if now.Sub(s.lastUsed) >= c.idleTTL {
			c.order.Remove(e)
			delete(c.sessions, key)
			expired = append(expired, s)
		}
		e = next
	}
	c.mu.Unlock()

	for _, s := range expired {
		s.transport.Terminate()
		c.onEvictIdle()
	}
}

// snapshot returns every cached session as a SessionSnapshot, sorted
// lexicographically by key for deterministic diagnostics.
func (c *SessionCache) snapshot(now time.Time) []SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionSnapshot, 0, len(c.sessions))
	for key, s := range c.sessions {
		out = append(out, SessionSnapshot{
			SessionKey: key,
			IdleMillis: now.Sub(s.lastUsed).Milliseconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out
}

// closeAll terminates every cached transport, used when the runtime is
// being torn down.
func (c *SessionCache) closeAll() {
	c.mu.Lock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*session)
	c.order = list.New()
	c.mu.Unlock()

	for _, s := range sessions {
		s.transport.Terminate()
	}
}
