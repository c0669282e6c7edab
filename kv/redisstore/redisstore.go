// Package redisstore implements the durable storage contract on Redis.
// Update stages writes locally and commits them through WATCH/MULTI/EXEC:
// every key read inside the transaction is watched, so a concurrent write
// from another process fails the EXEC and the transaction is retried against
// fresh state.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/authlane/access"
)

// maxTxRetries bounds how often a contended Update is retried before giving
// up.
const maxTxRetries = 16

// Backend is a Redis-backed access.Backend.
type Backend struct {
	client       *redis.Client
	prefix       string
	maxValueSize int
}

// NewBackend wraps an existing Redis client. prefix scopes every key this
// backend touches; maxValueSize <= 0 disables the size quantum.
func NewBackend(client *redis.Client, prefix string, maxValueSize int) *Backend {
	return &Backend{client: client, prefix: prefix, maxValueSize: maxValueSize}
}

func (b *Backend) Namespace(id string) access.Storage {
	return &Store{backend: b, ns: id}
}

func (b *Backend) Close(context.Context) error {
	return b.client.Close()
}

// Store is one namespace's view of the keyspace.
type Store struct {
	backend *Backend
	ns      string
}

func (s *Store) redisKey(key string) string {
	return fmt.Sprintf("%s:%s:%s", s.backend.prefix, s.ns, key)
}

// keySetKey tracks the namespace's live keys so DeleteAll does not need a
// SCAN.
func (s *Store) keySetKey() string {
	return fmt.Sprintf("%s:%s:__keys__", s.backend.prefix, s.ns)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.backend.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if s.backend.maxValueSize > 0 && len(value) > s.backend.maxValueSize {
		return access.ErrValueTooLarge
	}
	pipe := s.backend.client.TxPipeline()
	pipe.Set(ctx, s.redisKey(key), value, 0)
	pipe.SAdd(ctx, s.keySetKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	pipe := s.backend.client.TxPipeline()
	del := pipe.Del(ctx, s.redisKey(key))
	pipe.SRem(ctx, s.keySetKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: delete %q: %w", key, err)
	}
	return del.Val() > 0, nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	keys, err := s.backend.client.SMembers(ctx, s.keySetKey()).Result()
	if err != nil {
		return fmt.Errorf("redis: list namespace %q: %w", s.ns, err)
	}
	pipe := s.backend.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, s.redisKey(key))
	}
	pipe.Del(ctx, s.keySetKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete namespace %q: %w", s.ns, err)
	}
	return nil
}

// Update runs fn against a staged view and commits in one MULTI/EXEC block.
// Keys read by fn are WATCHed first, so a write from another connection
// between read and commit fails the EXEC; the whole transaction then reruns
// against the new state, up to maxTxRetries times. Errors returned by fn
// abort the transaction without retrying.
func (s *Store) Update(ctx context.Context, fn func(tx access.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.backend.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{
				ctx:     ctx,
				store:   s,
				rtx:     rtx,
				writes:  make(map[string][]byte),
				deletes: make(map[string]bool),
			}
			if err := fn(tx); err != nil {
				return err
			}

			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for key := range tx.deletes {
					pipe.Del(ctx, s.redisKey(key))
					pipe.SRem(ctx, s.keySetKey(), key)
				}
				for key, value := range tx.writes {
					pipe.Set(ctx, s.redisKey(key), value, 0)
					pipe.SAdd(ctx, s.keySetKey(), key)
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: namespace %q: transaction contention, gave up after %d attempts", s.ns, maxTxRetries)
}

type redisTx struct {
	ctx     context.Context
	store   *Store
	rtx     *redis.Tx
	writes  map[string][]byte
	deletes map[string]bool
}

// read fetches committed state through the watched connection, registering
// the key with WATCH first so a concurrent write invalidates the commit.
func (tx *redisTx) read(key string) ([]byte, bool, error) {
	rkey := tx.store.redisKey(key)
	if err := tx.rtx.Watch(tx.ctx, rkey).Err(); err != nil {
		return nil, false, fmt.Errorf("redis: watch %q: %w", key, err)
	}
	v, err := tx.rtx.Get(tx.ctx, rkey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return v, true, nil
}

func (tx *redisTx) Get(key string) ([]byte, bool, error) {
	if v, ok := tx.writes[key]; ok {
		return v, true, nil
	}
	if tx.deletes[key] {
		return nil, false, nil
	}
	return tx.read(key)
}

func (tx *redisTx) Put(key string, value []byte) error {
	if tx.store.backend.maxValueSize > 0 && len(value) > tx.store.backend.maxValueSize {
		return access.ErrValueTooLarge
	}
	delete(tx.deletes, key)
	tx.writes[key] = value
	return nil
}

func (tx *redisTx) Delete(key string) (bool, error) {
	if _, ok := tx.writes[key]; ok {
		delete(tx.writes, key)
		tx.deletes[key] = true
		return true, nil
	}
	if tx.deletes[key] {
		return false, nil
	}
	_, ok, err := tx.read(key)
	if err != nil {
		return false, err
	}
	tx.deletes[key] = true
	return ok, nil
}
