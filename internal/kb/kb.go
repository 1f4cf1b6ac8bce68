package kb

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"frontdesk/internal/domain"
	"frontdesk/internal/normalize"
)

// Store persists knowledge entries by normalized key. FindAnswer returns
// domain.ErrNotFound on a miss.
type Store interface {
	FindAnswer(ctx context.Context, key string) (domain.KnowledgeEntry, error)
	RecordHit(ctx context.Context, key string) error
	UpsertAnswer(ctx context.Context, e domain.KnowledgeEntry) error
	ListAnswers(ctx context.Context) ([]domain.KnowledgeEntry, error)
}

// Cache answers questions from the knowledge base. Questions are reduced to
// their normalized form on both write and read.
type Cache struct {
	Store  Store
	Now    func() time.Time
	Logger *slog.Logger
}

func New(store Store, now func() time.Time, logger *slog.Logger) *Cache {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{Store: store, Now: now, Logger: logger}
}

// Lookup returns the stored answer for question. A storage failure is an
// error, never a miss.
func (c *Cache) Lookup(ctx context.Context, question string) (string, bool, error) {
	key := normalize.Question(question)
	if key == "" {
		return "", false, nil
	}
	e, err := c.Store.FindAnswer(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.Storage("kb.lookup", err)
	}
	if err := c.Store.RecordHit(ctx, key); err != nil {
		c.Logger.Warn("record knowledge hit failed", "key", key, "err", err)
	}
	return e.Answer, true, nil
}

// Upsert creates or overwrites the entry for the normalized question and
// returns it as stored, with its original creation time and hit count.
func (c *Cache) Upsert(ctx context.Context, question, answer string) (domain.KnowledgeEntry, error) {
	if strings.TrimSpace(question) == "" {
		return domain.KnowledgeEntry{}, domain.Validation("question is required")
	}
	if strings.TrimSpace(answer) == "" {
		return domain.KnowledgeEntry{}, domain.Validation("answer is required")
	}
	key := normalize.Question(question)
	if key == "" {
		return domain.KnowledgeEntry{}, domain.Validation("question %q has no content after normalization", question)
	}
	now := c.Now().UTC()
	e := domain.KnowledgeEntry{Key: key, Question: question, Answer: answer, CreatedAt: now, UpdatedAt: now}
	if err := c.Store.UpsertAnswer(ctx, e); err != nil {
		return domain.KnowledgeEntry{}, domain.Storage("kb.upsert", err)
	}
	stored, err := c.Store.FindAnswer(ctx, key)
	if err != nil {
		c.Logger.Warn("re-read knowledge entry failed", "key", key, "err", err)
		return e, nil
	}
	return stored, nil
}

func (c *Cache) List(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	entries, err := c.Store.ListAnswers(ctx)
	if err != nil {
		return nil, domain.Storage("kb.list", err)
	}
	return entries, nil
}
