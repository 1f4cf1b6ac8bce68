package repo

import (
	"context"
	"fmt"

	"frontdesk/internal/domain"
	"frontdesk/internal/events"
)

const knowledgeColumns = `key,question,answer,hits,created_at,updated_at`

func scanKnowledge(row rowScanner) (domain.KnowledgeEntry, error) {
	var (
		e                    domain.KnowledgeEntry
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.Key, &e.Question, &e.Answer, &e.Hits, &createdAt, &updatedAt); err != nil {
		return e, err
	}
	var err error
	if e.CreatedAt, err = parseTS(createdAt); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return e, err
	}
	return e, nil
}

// FindAnswer returns the oldest entry stored under key.
func (r Repo) FindAnswer(ctx context.Context, key string) (domain.KnowledgeEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_entries WHERE key=? ORDER BY created_at, rowid LIMIT 1`, key)
	if err != nil {
		return domain.KnowledgeEntry{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.KnowledgeEntry{}, err
		}
		return domain.KnowledgeEntry{}, ErrNotFound
	}
	return scanKnowledge(rows)
}

func (r Repo) RecordHit(ctx context.Context, key string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE knowledge_entries SET hits=hits+1 WHERE key=?`, key)
	return err
}

// UpsertAnswer creates the entry for e.Key or overwrites its question text
// and answer. Hits and created_at survive an overwrite.
func (r Repo) UpsertAnswer(ctx context.Context, e domain.KnowledgeEntry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO knowledge_entries(`+knowledgeColumns+`) VALUES (?,?,?,0,?,?)
ON CONFLICT(key) DO UPDATE SET question=excluded.question, answer=excluded.answer, updated_at=excluded.updated_at`,
		e.Key, e.Question, e.Answer, formatTS(e.CreatedAt), formatTS(e.UpdatedAt)); err != nil {
		return fmt.Errorf("upsert knowledge entry: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.KnowledgeUpserted, "knowledge", e.Key, events.EventPayload{
		"question": e.Question,
		"answer":   e.Answer,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) ListAnswers(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_entries ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KnowledgeEntry
	for rows.Next() {
		e, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
