package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/snakeclub/chat-robot/internal/logging"
	"github.com/snakeclub/chat-robot/internal/reply"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStore(context.Background(), rdb, "test", logging.Discard())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisStore(t)
		fn(t, s)
	})
}

func TestCreateAndInfo(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.Create(ctx, map[string]any{"ip": "127.0.0.1", "age": 30})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		ok, err := s.Exists(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Exists = %v, %v", ok, err)
		}

		if err := s.UpdateInfo(ctx, id, map[string]any{"name": "张三"}); err != nil {
			t.Fatalf("UpdateInfo: %v", err)
		}
		info, err := s.Info(ctx, id)
		if err != nil {
			t.Fatalf("Info: %v", err)
		}
		if info["ip"] != "127.0.0.1" || info["name"] != "张三" || info["age"] != float64(30) {
			t.Errorf("Info = %v", info)
		}

		v, ok, err := s.InfoValue(ctx, id, "name")
		if err != nil || !ok || v != "张三" {
			t.Errorf("InfoValue(name) = %v, %v, %v", v, ok, err)
		}
		_, ok, _ = s.InfoValue(ctx, id, "missing")
		if ok {
			t.Error("InfoValue(missing) reported present")
		}

		if err := s.Clear(ctx, id, PartInfo); err != nil {
			t.Fatalf("Clear(info): %v", err)
		}
		info, _ = s.Info(ctx, id)
		if len(info) != 0 {
			t.Errorf("Info after clear = %v", info)
		}
	})
}

func TestUnknownSession(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ok, err := s.Exists(ctx, "nope")
		if err != nil || ok {
			t.Errorf("Exists(nope) = %v, %v", ok, err)
		}
		if _, err := s.Info(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Info err = %v, want ErrNotFound", err)
		}
		if err := s.Touch(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Touch err = %v, want ErrNotFound", err)
		}
		if _, err := s.Context(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Context err = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "nope"); err != nil {
			t.Errorf("Delete of unknown session = %v, want nil", err)
		}
	})
}

func TestContextVariants(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, _ := s.Create(ctx, nil)

		c, err := s.Context(ctx, id)
		if err != nil || c != nil {
			t.Fatalf("fresh Context = %v, %v", c, err)
		}

		opts := Options{Tips: "请选择", Options: []reply.Option{
			{Label: "1. a", StdQuestionID: 1, Index: 1},
			{Label: "2. b", StdQuestionID: 2, Index: 2},
		}}
		if err := s.SetOptions(ctx, id, opts); err != nil {
			t.Fatalf("SetOptions: %v", err)
		}
		c, _ = s.Context(ctx, id)
		got, ok := c.(*Options)
		if !ok || len(got.Options) != 2 || got.Options[1].StdQuestionID != 2 {
			t.Fatalf("Context = %#v, want options", c)
		}

		cid, err := s.SetAsk(ctx, id, Ask{Module: "ask", Func: "save_info", StdQuestionID: 9,
			Params: map[string]any{"info_key": "name"}})
		if err != nil || cid == "" {
			t.Fatalf("SetAsk = %q, %v", cid, err)
		}
		c, _ = s.Context(ctx, id)
		ask, ok := c.(*Ask)
		if !ok {
			t.Fatalf("Context = %#v, want ask replacing options", c)
		}
		if ask.ContextID != cid || ask.StdQuestionID != 9 || ask.Params["info_key"] != "name" {
			t.Errorf("ask = %+v", ask)
		}

		// An explicit context id is kept.
		cid2, _ := s.SetAsk(ctx, id, Ask{ContextID: "fixed", StdQuestionID: 9})
		if cid2 != "fixed" {
			t.Errorf("SetAsk kept id = %q, want fixed", cid2)
		}

		if err := s.ClearContext(ctx, id); err != nil {
			t.Fatalf("ClearContext: %v", err)
		}
		c, _ = s.Context(ctx, id)
		if c != nil {
			t.Errorf("Context after clear = %#v", c)
		}
	})
}

func TestCacheScopes(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, _ := s.Create(ctx, nil)

		if err := s.SetCache(ctx, id, "k", "session", ""); err != nil {
			t.Fatalf("SetCache: %v", err)
		}
		if err := s.SetCache(ctx, id, "k", "ctx-a", "a"); err != nil {
			t.Fatalf("SetCache(a): %v", err)
		}

		v, ok, _ := s.CacheValue(ctx, id, "k", "")
		if !ok || v != "session" {
			t.Errorf("session cache = %v, %v", v, ok)
		}
		v, ok, _ = s.CacheValue(ctx, id, "k", "a")
		if !ok || v != "ctx-a" {
			t.Errorf("context a cache = %v, %v", v, ok)
		}
		if _, ok, _ = s.CacheValue(ctx, id, "k", "b"); ok {
			t.Error("context b sees context a's cache")
		}

		// Writing under a new context id drops the old context's cache.
		if err := s.UpdateCache(ctx, id, map[string]any{"step": 1}, "b"); err != nil {
			t.Fatalf("UpdateCache(b): %v", err)
		}
		if _, ok, _ = s.CacheValue(ctx, id, "k", "a"); ok {
			t.Error("context a cache survived a new context")
		}
		all, _ := s.Cache(ctx, id, "b")
		if len(all) != 1 || all["step"] != float64(1) {
			t.Errorf("Cache(b) = %v", all)
		}
		all, _ = s.Cache(ctx, id, "a")
		if len(all) != 0 {
			t.Errorf("Cache(a) = %v, want empty", all)
		}

		if err := s.DeleteCache(ctx, id, "step", "b"); err != nil {
			t.Fatalf("DeleteCache: %v", err)
		}
		if _, ok, _ = s.CacheValue(ctx, id, "step", "b"); ok {
			t.Error("deleted key still present")
		}

		// The session cache is untouched by context churn.
		all, _ = s.Cache(ctx, id, "")
		if all["k"] != "session" {
			t.Errorf("session cache = %v", all)
		}
		if err := s.Clear(ctx, id, PartCache); err != nil {
			t.Fatalf("Clear(cache): %v", err)
		}
		all, _ = s.Cache(ctx, id, "")
		if len(all) != 0 {
			t.Errorf("session cache after clear = %v", all)
		}
	})
}

func TestDeleteAndExpired(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, _ := s.Create(ctx, map[string]any{"a": 1})
		_ = s.SetCache(ctx, id, "k", 1, "c")

		ids, err := s.Expired(ctx, time.Now().Add(time.Hour))
		if err != nil || len(ids) != 1 || ids[0] != id {
			t.Fatalf("Expired(future) = %v, %v", ids, err)
		}
		ids, _ = s.Expired(ctx, time.Now().Add(-time.Hour))
		if len(ids) != 0 {
			t.Errorf("Expired(past) = %v, want none", ids)
		}

		if err := s.Delete(ctx, id); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if ok, _ := s.Exists(ctx, id); ok {
			t.Error("session exists after delete")
		}
		// Deleting twice is a no-op.
		if err := s.Delete(ctx, id); err != nil {
			t.Errorf("second Delete: %v", err)
		}
	})
}

func TestConcurrentTurns(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				id, err := s.Create(ctx, map[string]any{"n": n})
				if err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				for j := 0; j < 10; j++ {
					if err := s.SetCache(ctx, id, "j", j, ""); err != nil {
						t.Errorf("SetCache: %v", err)
					}
				}
				v, _, _ := s.CacheValue(ctx, id, "j", "")
				if v != float64(9) {
					t.Errorf("session %d cache j = %v", n, v)
				}
			}(i)
		}
		wg.Wait()
	})
}

func TestRedisOrphanCleanup(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, map[string]any{"a": 1})
	mr.HSet("test:session:ghost:info", "a", "1")
	mr.Set("test:session:ghost:context", "{}")

	n, err := s.CleanupOrphans(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d keys, want 2", n)
	}
	if mr.Exists("test:session:ghost:info") {
		t.Error("orphan info key survived")
	}
	if !mr.Exists("test:session:" + id + ":info") {
		t.Error("live session key removed")
	}
}

func TestRedisTouchRacingDelete(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Delete lands after the existence check and before the write.
	s.now = func() time.Time {
		if err := s.Delete(ctx, id); err != nil {
			t.Errorf("Delete: %v", err)
		}
		return time.Now()
	}
	if err := s.Touch(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch err = %v, want ErrNotFound", err)
	}
	if ok, _ := s.Exists(ctx, id); ok {
		t.Error("deleted session is back in the session list")
	}
	if mr.Exists("test:session:list") {
		t.Error("session list key survived the delete")
	}
}

func TestRedisWritesAfterDelete(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, nil)
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	writes := map[string]func() error{
		"UpdateInfo":   func() error { return s.UpdateInfo(ctx, id, map[string]any{"a": 1}) },
		"SetOptions":   func() error { return s.SetOptions(ctx, id, Options{}) },
		"SetCache":     func() error { return s.SetCache(ctx, id, "k", 1, "") },
		"UpdateCache":  func() error { return s.UpdateCache(ctx, id, map[string]any{"k": 1}, "ctx-1") },
		"DeleteCache":  func() error { return s.DeleteCache(ctx, id, "k", "ctx-1") },
		"Clear":        func() error { return s.Clear(ctx, id, PartCache) },
		"ClearContext": func() error { return s.ClearContext(ctx, id) },
	}
	for name, write := range writes {
		if err := write(); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s err = %v, want ErrNotFound", name, err)
		}
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("keys left after writes to a deleted session: %v", keys)
	}
}

func TestSweeper(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		stale, _ := s.Create(ctx, nil)
		fresh, _ := s.Create(ctx, nil)

		sw := NewSweeper(s, time.Minute, time.Second, logging.Discard())
		sw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

		// The fresh session is touched "now" from the sweeper's point of view.
		switch st := s.(type) {
		case *MemoryStore:
			st.now = sw.now
		case *RedisStore:
			st.now = sw.now
		}
		if err := s.Touch(ctx, fresh); err != nil {
			t.Fatalf("Touch: %v", err)
		}

		if got := sw.Sweep(ctx); got != 1 {
			t.Fatalf("Sweep() = %d, want 1", got)
		}
		if ok, _ := s.Exists(ctx, stale); ok {
			t.Error("stale session survived")
		}
		if ok, _ := s.Exists(ctx, fresh); !ok {
			t.Error("fresh session removed")
		}
	})
}

func TestSweeperRunStops(t *testing.T) {
	s := NewMemoryStore()
	sw := NewSweeper(s, time.Millisecond, time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	id, _ := s.Create(context.Background(), nil)
	deadline := time.After(2 * time.Second)
	for {
		if ok, _ := s.Exists(context.Background(), id); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never removed the idle session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
