// Package redis stores session records as JSON documents in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/session"
)

// DefaultKeyPrefix namespaces record keys.
const DefaultKeyPrefix = "groupmesh:session:"

// Options configures a Store.
type Options struct {
	// KeyPrefix namespaces record keys and the id index.
	KeyPrefix string
	// TTL expires records after their last save. Zero keeps them forever.
	TTL    time.Duration
	Logger logging.Logger
}

// Store is a session.Store backed by a go-redis client. Each record lives
// under <prefix><id>; the ids are tracked in the set <prefix>index.
type Store struct {
	client redis.UniversalClient
	opts   Options
	logger logging.Logger
}

// New wraps an existing client. The caller owns the client.
func New(client redis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{KeyPrefix: DefaultKeyPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		client: client,
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
	}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, optFns ...func(o *Options)) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return New(client, optFns...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(id string) string { return s.opts.KeyPrefix + id }

func (s *Store) indexKey() string { return s.opts.KeyPrefix + "index" }

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, r *session.Record) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("save session: record without id")
	}

	c := r.Clone()
	c.Updated = time.Now().UTC()
	switch old, err := s.Get(ctx, r.ID); {
	case err == nil:
		c.Created = old.Created
	case errors.Is(err, session.ErrNotFound):
		if c.Created.IsZero() {
			c.Created = c.Updated
		}
	default:
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", r.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(r.ID), data, s.opts.TTL)
		p.SAdd(ctx, s.indexKey(), r.ID)
		return nil
	})
	if err != nil {
		s.logger.Error("session.redis.save", "session", r.ID, "error", err.Error())
		return fmt.Errorf("save session %s: %w", r.ID, err)
	}

	s.logger.Debug("session.redis.save", "session", r.ID, "messages", len(c.Messages), "bytes", len(data))
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var r session.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &r, nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.key(id))
		p.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return nil
}

// List implements session.Store. Ids whose records expired are pruned from
// the index.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	live := ids[:0]
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if n == 0 {
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		live = append(live, id)
	}
	slices.Sort(live)
	return live, nil
}

var _ session.Store = (*Store)(nil)
