package session

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memSession struct {
	lastAccess time.Time
	info       map[string][]byte
	context    []byte
	cache      map[string][]byte
	ctxOwner   string
	ctxCache   map[string][]byte
}

func newMemSession(now time.Time) *memSession {
	return &memSession{
		lastAccess: now,
		info:       map[string][]byte{},
		cache:      map[string][]byte{},
		ctxCache:   map[string][]byte{},
	}
}

// MemoryStore keeps sessions in process memory. Values are held in their
// JSON encoding so reads behave exactly like the redis backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		now:      time.Now,
	}
}

// Create starts a session holding info and returns its id.
func (m *MemoryStore) Create(_ context.Context, info map[string]any) (string, error) {
	s := newMemSession(m.now())
	for k, v := range info {
		raw, err := encodeValue(v)
		if err != nil {
			return "", err
		}
		s.info[k] = raw
	}

	id := uuid.New().String()
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok, nil
}

func (m *MemoryStore) Touch(_ context.Context, id string) error {
	return m.update(id, func(s *memSession) error {
		s.lastAccess = m.now()
		return nil
	})
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Info(_ context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := m.view(id, func(s *memSession) (err error) {
		out, err = decodeMap(s.info)
		return err
	})
	return out, err
}

func (m *MemoryStore) InfoValue(_ context.Context, id, key string) (any, bool, error) {
	return m.value(id, func(s *memSession) map[string][]byte { return s.info }, key)
}

func (m *MemoryStore) UpdateInfo(_ context.Context, id string, info map[string]any) error {
	enc, err := encodeAll(info)
	if err != nil {
		return err
	}
	return m.update(id, func(s *memSession) error {
		maps.Copy(s.info, enc)
		return nil
	})
}

func (m *MemoryStore) Context(_ context.Context, id string) (Context, error) {
	var raw []byte
	if err := m.view(id, func(s *memSession) error {
		raw = s.context
		return nil
	}); err != nil {
		return nil, err
	}
	return decodeContext(raw)
}

func (m *MemoryStore) SetOptions(_ context.Context, id string, opts Options) error {
	raw, err := encodeContext(&opts)
	if err != nil {
		return err
	}
	return m.update(id, func(s *memSession) error {
		s.context = raw
		return nil
	})
}

func (m *MemoryStore) SetAsk(_ context.Context, id string, ask Ask) (string, error) {
	if ask.ContextID == "" {
		ask.ContextID = uuid.New().String()
	}
	raw, err := encodeContext(&ask)
	if err != nil {
		return "", err
	}
	err = m.update(id, func(s *memSession) error {
		s.context = raw
		return nil
	})
	if err != nil {
		return "", err
	}
	return ask.ContextID, nil
}

func (m *MemoryStore) ClearContext(ctx context.Context, id string) error {
	return m.Clear(ctx, id, PartContext)
}

func (m *MemoryStore) Clear(_ context.Context, id string, part Part) error {
	return m.update(id, func(s *memSession) error {
		switch part {
		case PartInfo:
			s.info = map[string][]byte{}
		case PartContext:
			s.context = nil
		case PartCache:
			s.cache = map[string][]byte{}
		case PartContextCache:
			s.ctxOwner = ""
			s.ctxCache = map[string][]byte{}
		}
		return nil
	})
}

func (m *MemoryStore) SetCache(ctx context.Context, id, key string, value any, contextID string) error {
	return m.UpdateCache(ctx, id, map[string]any{key: value}, contextID)
}

func (m *MemoryStore) UpdateCache(_ context.Context, id string, values map[string]any, contextID string) error {
	enc, err := encodeAll(values)
	if err != nil {
		return err
	}
	return m.update(id, func(s *memSession) error {
		maps.Copy(s.cacheFor(contextID, true), enc)
		return nil
	})
}

func (m *MemoryStore) DeleteCache(_ context.Context, id, key, contextID string) error {
	return m.update(id, func(s *memSession) error {
		if c := s.cacheFor(contextID, false); c != nil {
			delete(c, key)
		}
		return nil
	})
}

func (m *MemoryStore) CacheValue(_ context.Context, id, key, contextID string) (any, bool, error) {
	return m.value(id, func(s *memSession) map[string][]byte { return s.cacheFor(contextID, false) }, key)
}

func (m *MemoryStore) Cache(_ context.Context, id, contextID string) (map[string]any, error) {
	out := map[string]any{}
	err := m.view(id, func(s *memSession) (err error) {
		if c := s.cacheFor(contextID, false); c != nil {
			out, err = decodeMap(c)
		}
		return err
	})
	return out, err
}

func (m *MemoryStore) Expired(_ context.Context, before time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, s := range m.sessions {
		if s.lastAccess.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) Close() error { return nil }

// cacheFor returns the map addressed by contextID. For a context id that
// does not own the context cache it returns nil, unless claim is set, in
// which case the cache is reset and handed to the new owner.
func (s *memSession) cacheFor(contextID string, claim bool) map[string][]byte {
	if contextID == "" {
		return s.cache
	}
	if s.ctxOwner != contextID {
		if !claim {
			return nil
		}
		s.ctxOwner = contextID
		s.ctxCache = map[string][]byte{}
	}
	return s.ctxCache
}

func (m *MemoryStore) view(id string, fn func(*memSession) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	return fn(s)
}

func (m *MemoryStore) update(id string, fn func(*memSession) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	return fn(s)
}

func (m *MemoryStore) value(id string, pick func(*memSession) map[string][]byte, key string) (any, bool, error) {
	var raw []byte
	err := m.view(id, func(s *memSession) error {
		if c := pick(s); c != nil {
			raw = c[key]
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
	}
	v, err := decodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func encodeAll(values map[string]any) (map[string][]byte, error) {
	out := make(map[string][]byte, len(values))
	for k, v := range values {
		raw, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return out, nil
}
