// Package redis provides a Redis-backed FormStore and DistributedLocker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/migrate"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the adapter.
const DefaultPrefix = "formtree:form:"

// noExpiry is the index score used when forms never expire (2100-01-01).
const noExpiry = 4102444800

// Store implements ports.FormStore using Redis.
// Forms are JSON strings; a sorted set indexes them by expiry.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for forms.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for forms.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(formID string) string {
	return s.prefix + formID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save persists the form to Redis.
func (s *Store) Save(ctx context.Context, state *domain.FormState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal form: %w", err)
	}

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = noExpiry
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(state.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: state.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves the form from Redis. Legacy documents are migrated on the way in.
func (s *Store) Load(ctx context.Context, formID string) (*domain.FormState, error) {
	val, err := s.client.Get(ctx, s.key(formID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrFormNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	state, _, err := migrate.FromJSON(val)
	if err != nil {
		return nil, fmt.Errorf("failed to decode form %s: %w", formID, err)
	}
	return state, nil
}

// Delete removes the form and its index entry.
func (s *Store) Delete(ctx context.Context, formID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(formID))
	pipe.ZRem(ctx, s.indexKey(), formID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns stored forms, pruning index entries whose key has expired.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired forms: %w", err)
	}

	forms, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	return forms, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
