package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// RedisStore keeps sessions in redis so several processes can share them.
//
// Key layout, under the configured prefix:
//
//	<prefix>:session:list                 hash of session id -> last access (unix nanos)
//	<prefix>:session:<id>:live            marker removed by Delete, watched by writers
//	<prefix>:session:<id>:info            hash of info key -> JSON value
//	<prefix>:session:<id>:cache           hash of cache key -> JSON value
//	<prefix>:session:<id>:context         JSON context envelope
//	<prefix>:session:<id>:ctxcache        hash of context cache key -> JSON value
//	<prefix>:session:<id>:ctxcache:owner  context id owning ctxcache
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore wraps a redis client. It pings the server and removes
// session keys whose id is no longer in the session list.
func NewRedisStore(ctx context.Context, rdb redis.UniversalClient, prefix string, logger *slog.Logger) (*RedisStore, error) {
	if prefix == "" {
		prefix = "chat_robot"
	}
	s := &RedisStore{rdb: rdb, prefix: prefix, logger: logger, now: time.Now}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	removed, err := s.CleanupOrphans(ctx)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		logger.Info("removed orphaned session keys", "count", removed)
	}
	return s, nil
}

func (s *RedisStore) listKey() string { return s.prefix + ":session:list" }

func (s *RedisStore) key(id, part string) string {
	return s.prefix + ":session:" + id + ":" + part
}

func (s *RedisStore) allKeys(id string) []string {
	return []string{
		s.key(id, "live"), s.key(id, "info"), s.key(id, "cache"), s.key(id, "context"),
		s.key(id, "ctxcache"), s.key(id, "ctxcache:owner"),
	}
}

func (s *RedisStore) Create(ctx context.Context, info map[string]any) (string, error) {
	enc, err := encodeAll(info)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.listKey(), id, s.stamp())
		pipe.Set(ctx, s.key(id, "live"), 1, 0)
		if len(enc) > 0 {
			pipe.HSet(ctx, s.key(id, "info"), toFields(enc))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.HExists(ctx, s.listKey(), id).Result()
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Touch(ctx context.Context, id string) error {
	err := s.update(ctx, id, func(*redis.Tx) (txWrite, error) {
		stamp := s.stamp()
		return func(pipe redis.Pipeliner) {
			pipe.HSet(ctx, s.listKey(), id, stamp)
		}, nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("touching session: %w", err)
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.listKey(), id)
		pipe.Del(ctx, s.allKeys(id)...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *RedisStore) Info(ctx context.Context, id string) (map[string]any, error) {
	var info *redis.MapStringStringCmd
	err := s.snapshot(ctx, id, func(pipe redis.Pipeliner) {
		info = pipe.HGetAll(ctx, s.key(id, "info"))
	})
	if err != nil {
		return nil, err
	}
	return decodeHash(info.Val())
}

func (s *RedisStore) InfoValue(ctx context.Context, id, key string) (any, bool, error) {
	var v *redis.StringCmd
	err := s.snapshot(ctx, id, func(pipe redis.Pipeliner) {
		v = pipe.HGet(ctx, s.key(id, "info"), key)
	})
	if err != nil {
		return nil, false, err
	}
	return fieldValue(v)
}

func (s *RedisStore) UpdateInfo(ctx context.Context, id string, info map[string]any) error {
	enc, err := encodeAll(info)
	if err != nil {
		return err
	}
	return s.update(ctx, id, func(*redis.Tx) (txWrite, error) {
		return func(pipe redis.Pipeliner) {
			if len(enc) > 0 {
				pipe.HSet(ctx, s.key(id, "info"), toFields(enc))
			}
		}, nil
	})
}

func (s *RedisStore) Context(ctx context.Context, id string) (Context, error) {
	var raw *redis.StringCmd
	err := s.snapshot(ctx, id, func(pipe redis.Pipeliner) {
		raw = pipe.Get(ctx, s.key(id, "context"))
	})
	if err != nil {
		return nil, err
	}
	b, err := raw.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading context: %w", err)
	}
	return decodeContext(b)
}

func (s *RedisStore) SetOptions(ctx context.Context, id string, opts Options) error {
	return s.setContext(ctx, id, &opts)
}

func (s *RedisStore) SetAsk(ctx context.Context, id string, ask Ask) (string, error) {
	if ask.ContextID == "" {
		ask.ContextID = uuid.New().String()
	}
	if err := s.setContext(ctx, id, &ask); err != nil {
		return "", err
	}
	return ask.ContextID, nil
}

func (s *RedisStore) setContext(ctx context.Context, id string, c Context) error {
	raw, err := encodeContext(c)
	if err != nil {
		return err
	}
	return s.update(ctx, id, func(*redis.Tx) (txWrite, error) {
		return func(pipe redis.Pipeliner) {
			pipe.Set(ctx, s.key(id, "context"), raw, 0)
		}, nil
	})
}

func (s *RedisStore) ClearContext(ctx context.Context, id string) error {
	return s.Clear(ctx, id, PartContext)
}

func (s *RedisStore) Clear(ctx context.Context, id string, part Part) error {
	var keys []string
	switch part {
	case PartInfo:
		keys = []string{s.key(id, "info")}
	case PartContext:
		keys = []string{s.key(id, "context")}
	case PartCache:
		keys = []string{s.key(id, "cache")}
	case PartContextCache:
		keys = []string{s.key(id, "ctxcache"), s.key(id, "ctxcache:owner")}
	}
	return s.update(ctx, id, func(*redis.Tx) (txWrite, error) {
		return func(pipe redis.Pipeliner) {
			if len(keys) > 0 {
				pipe.Del(ctx, keys...)
			}
		}, nil
	})
}

func (s *RedisStore) SetCache(ctx context.Context, id, key string, value any, contextID string) error {
	return s.UpdateCache(ctx, id, map[string]any{key: value}, contextID)
}

func (s *RedisStore) UpdateCache(ctx context.Context, id string, values map[string]any, contextID string) error {
	enc, err := encodeAll(values)
	if err != nil {
		return err
	}
	if contextID == "" {
		return s.update(ctx, id, func(*redis.Tx) (txWrite, error) {
			return func(pipe redis.Pipeliner) {
				if len(enc) > 0 {
					pipe.HSet(ctx, s.key(id, "cache"), toFields(enc))
				}
			}, nil
		})
	}

	ownerKey, cacheKey := s.key(id, "ctxcache:owner"), s.key(id, "ctxcache")
	return s.update(ctx, id, func(tx *redis.Tx) (txWrite, error) {
		owner, err := tx.Get(ctx, ownerKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("reading context cache owner: %w", err)
		}
		return func(pipe redis.Pipeliner) {
			if owner != contextID {
				pipe.Del(ctx, cacheKey)
				pipe.Set(ctx, ownerKey, contextID, 0)
			}
			if len(enc) > 0 {
				pipe.HSet(ctx, cacheKey, toFields(enc))
			}
		}, nil
	}, ownerKey)
}

func (s *RedisStore) DeleteCache(ctx context.Context, id, key, contextID string) error {
	if contextID == "" {
		return s.update(ctx, id, func(*redis.Tx) (txWrite, error) {
			return func(pipe redis.Pipeliner) {
				pipe.HDel(ctx, s.key(id, "cache"), key)
			}, nil
		})
	}
	ownerKey := s.key(id, "ctxcache:owner")
	return s.update(ctx, id, func(tx *redis.Tx) (txWrite, error) {
		owner, err := tx.Get(ctx, ownerKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("reading context cache owner: %w", err)
		}
		return func(pipe redis.Pipeliner) {
			if owner == contextID {
				pipe.HDel(ctx, s.key(id, "ctxcache"), key)
			}
		}, nil
	}, ownerKey)
}

func (s *RedisStore) CacheValue(ctx context.Context, id, key, contextID string) (any, bool, error) {
	if contextID == "" {
		var v *redis.StringCmd
		err := s.snapshot(ctx, id, func(pipe redis.Pipeliner) {
			v = pipe.HGet(ctx, s.key(id, "cache"), key)
		})
		if err != nil {
			return nil, false, err
		}
		return fieldValue(v)
	}
	var owner, v *redis.StringCmd
	err := s.snapshot(ctx, id, func(pipe redis.Pipeliner) {
		owner = pipe.Get(ctx, s.key(id, "ctxcache:owner"))
		v = pipe.HGet(ctx, s.key(id, "ctxcache"), key)
	})
	if err != nil {
		return nil, false, err
	}
	if owner.Val() != contextID {
		return nil, false, nil
	}
	return fieldValue(v)
}

func (s *RedisStore) Cache(ctx context.Context, id, contextID string) (map[string]any, error) {
	hash := s.key(id, "cache")
	if contextID != "" {
		hash = s.key(id, "ctxcache")
	}
	var owner *redis.StringCmd
	var all *redis.MapStringStringCmd
	err := s.snapshot(ctx, id, func(pipe redis.Pipeliner) {
		if contextID != "" {
			owner = pipe.Get(ctx, s.key(id, "ctxcache:owner"))
		}
		all = pipe.HGetAll(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.Val() != contextID {
		return map[string]any{}, nil
	}
	return decodeHash(all.Val())
}

func (s *RedisStore) Expired(ctx context.Context, before time.Time) ([]string, error) {
	list, err := s.rdb.HGetAll(ctx, s.listKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	cutoff := before.UnixNano()
	var ids []string
	for id, v := range list {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ts < cutoff {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// CleanupOrphans deletes per-session keys whose id is missing from the
// session list, for example after a crash between the two deletes.
func (s *RedisStore) CleanupOrphans(ctx context.Context) (int, error) {
	list, err := s.rdb.HGetAll(ctx, s.listKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}

	base := s.prefix + ":session:"
	var orphans []string
	iter := s.rdb.Scan(ctx, 0, base+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		rest := strings.TrimPrefix(k, base)
		id, _, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		if _, live := list[id]; !live {
			orphans = append(orphans, k)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scanning session keys: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	if err := s.rdb.Del(ctx, orphans...).Err(); err != nil {
		return 0, fmt.Errorf("deleting orphaned keys: %w", err)
	}
	return len(orphans), nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) stamp() string {
	return strconv.FormatInt(s.now().UnixNano(), 10)
}

// txWrite queues the writes of one store operation.
type txWrite func(pipe redis.Pipeliner)

// update runs a write against session id in one transaction watching the
// session's live marker and keys. A concurrent Delete either lands first
// (ErrNotFound) or aborts the write, which is then retried.
func (s *RedisStore) update(ctx context.Context, id string, prepare func(tx *redis.Tx) (txWrite, error), keys ...string) error {
	txf := func(tx *redis.Tx) error {
		ok, err := tx.HExists(ctx, s.listKey(), id).Result()
		if err != nil {
			return fmt.Errorf("checking session: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		write, err := prepare(tx)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}

	watch := append([]string{s.key(id, "live")}, keys...)
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.rdb.Watch(ctx, txf, watch...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("session %s: %w", id, err)
}

// snapshot queues reads in the same MULTI block as the existence check.
func (s *RedisStore) snapshot(ctx context.Context, id string, queue func(pipe redis.Pipeliner)) error {
	var exists *redis.BoolCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.HExists(ctx, s.listKey(), id)
		queue(pipe)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reading session: %w", err)
	}
	if !exists.Val() {
		return ErrNotFound
	}
	return nil
}

func decodeHash(m map[string]string) (map[string]any, error) {
	raw := make(map[string][]byte, len(m))
	for k, v := range m {
		raw[k] = []byte(v)
	}
	return decodeMap(raw)
}

func fieldValue(cmd *redis.StringCmd) (any, bool, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading session field: %w", err)
	}
	v, err := decodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func toFields(enc map[string][]byte) map[string]any {
	out := make(map[string]any, len(enc))
	for k, v := range enc {
		out[k] = string(v)
	}
	return out
}
