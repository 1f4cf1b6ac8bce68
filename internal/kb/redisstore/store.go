// Package redisstore keeps the knowledge base in Redis hashes so several
// frontdesk processes can share one answer cache.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"frontdesk/internal/domain"
)

type Store struct {
	client redis.UniversalClient
	prefix string
}

type record struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(ctx context.Context, client redis.UniversalClient, prefix string) (*Store, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) entriesKey() string { return s.prefix + ":entries" }
func (s *Store) createdKey() string { return s.prefix + ":created" }
func (s *Store) hitsKey() string    { return s.prefix + ":hits" }

func (s *Store) FindAnswer(ctx context.Context, key string) (domain.KnowledgeEntry, error) {
	raw, err := s.client.HGet(ctx, s.entriesKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.KnowledgeEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.KnowledgeEntry{}, err
	}
	created, err := s.client.HGet(ctx, s.createdKey(), key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.KnowledgeEntry{}, err
	}
	hits, err := s.client.HGet(ctx, s.hitsKey(), key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.KnowledgeEntry{}, err
	}
	return decode(key, raw, created, hits)
}

func (s *Store) RecordHit(ctx context.Context, key string) error {
	return s.client.HIncrBy(ctx, s.hitsKey(), key, 1).Err()
}

// UpsertAnswer overwrites the entry atomically; the first creation time
// is kept.
func (s *Store) UpsertAnswer(ctx context.Context, e domain.KnowledgeEntry) error {
	data, err := json.Marshal(record{Question: e.Question, Answer: e.Answer, UpdatedAt: e.UpdatedAt.UTC()})
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entriesKey(), e.Key, data)
		pipe.HSetNX(ctx, s.createdKey(), e.Key, e.CreatedAt.UTC().Format(time.RFC3339Nano))
		return nil
	})
	return err
}

// ListAnswers returns every entry ordered by creation time.
func (s *Store) ListAnswers(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	entries, err := s.client.HGetAll(ctx, s.entriesKey()).Result()
	if err != nil {
		return nil, err
	}
	created, err := s.client.HGetAll(ctx, s.createdKey()).Result()
	if err != nil {
		return nil, err
	}
	hits, err := s.client.HGetAll(ctx, s.hitsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.KnowledgeEntry, 0, len(entries))
	for key, raw := range entries {
		var n int64
		if h, ok := hits[key]; ok {
			if _, err := fmt.Sscan(h, &n); err != nil {
				return nil, fmt.Errorf("hits for %q: %w", key, err)
			}
		}
		e, err := decode(key, raw, created[key], n)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func decode(key, raw, created string, hits int64) (domain.KnowledgeEntry, error) {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("decode knowledge entry %q: %w", key, err)
	}
	e := domain.KnowledgeEntry{Key: key, Question: rec.Question, Answer: rec.Answer, Hits: hits, UpdatedAt: rec.UpdatedAt, CreatedAt: rec.UpdatedAt}
	if created != "" {
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return domain.KnowledgeEntry{}, fmt.Errorf("created_at for %q: %w", key, err)
		}
		e.CreatedAt = t
	}
	return e, nil
}
