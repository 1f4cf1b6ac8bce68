package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"frontdesk/internal/domain"
	"frontdesk/internal/events"
)

// Repo is the SQLite store for help requests, the knowledge base and the
// audit log.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var ErrNotFound = domain.ErrNotFound

// tsLayout is fixed width so stored timestamps sort lexicographically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

const requestColumns = `id,question,customer_id,status,resolved_answer,supervisor_reply,created_at,updated_at,due_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (domain.HelpRequest, error) {
	var (
		req                         domain.HelpRequest
		status                      string
		answer, reply               sql.NullString
		createdAt, updatedAt, dueAt string
	)
	if err := row.Scan(&req.ID, &req.Question, &req.CustomerID, &status, &answer, &reply, &createdAt, &updatedAt, &dueAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return req, ErrNotFound
		}
		return req, err
	}
	var err error
	if req.Status, err = domain.ParseStatus(status); err != nil {
		return req, fmt.Errorf("help request %s: %w", req.ID, err)
	}
	if answer.Valid {
		req.ResolvedAnswer = &answer.String
	}
	if reply.Valid {
		req.SupervisorReply = &reply.String
	}
	if req.CreatedAt, err = parseTS(createdAt); err != nil {
		return req, err
	}
	if req.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return req, err
	}
	if req.DueAt, err = parseTS(dueAt); err != nil {
		return req, err
	}
	return req, nil
}

func (r Repo) CreateRequest(ctx context.Context, req domain.HelpRequest) error {
	if req.Status != domain.StatusPending {
		return fmt.Errorf("%w: new help requests start pending, got %s", domain.ErrInvalidTransition, req.Status)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO help_requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		req.ID, req.Question, req.CustomerID, string(req.Status), nullableStringPtr(req.ResolvedAnswer), nullableStringPtr(req.SupervisorReply),
		formatTS(req.CreatedAt), formatTS(req.UpdatedAt), formatTS(req.DueAt)); err != nil {
		return fmt.Errorf("insert help request: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.HelpRequestEscalated, "help_request", req.ID, events.EventPayload{
		"question":    req.Question,
		"customer_id": req.CustomerID,
		"due_at":      formatTS(req.DueAt),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.HelpRequest, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM help_requests WHERE id=?`, id))
}

// ListRequests returns matching requests in creation order.
func (r Repo) ListRequests(ctx context.Context, f domain.RequestFilter) ([]domain.HelpRequest, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.CustomerID != "" {
		clauses = append(clauses, "customer_id=?")
		args = append(args, f.CustomerID)
	}
	if !f.DueBefore.IsZero() {
		clauses = append(clauses, "due_at<=?")
		args = append(args, formatTS(f.DueBefore))
	}
	query := `SELECT ` + requestColumns + ` FROM help_requests`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, rowid"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HelpRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// TransitionRequest moves a pending request to a terminal status with a
// single conditional update. It returns false when the request exists but
// is no longer pending, i.e. another transition won.
func (r Repo) TransitionRequest(ctx context.Context, t domain.Transition) (bool, error) {
	if err := domain.CanTransition(domain.StatusPending, t.To); err != nil {
		return false, err
	}
	var answer any
	switch t.To {
	case domain.StatusResolved:
		if strings.TrimSpace(t.ResolvedAnswer) == "" {
			return false, domain.Validation("resolved answer is required")
		}
		answer = t.ResolvedAnswer
	case domain.StatusUnresolved:
		answer = nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE help_requests SET status=?, resolved_answer=?, updated_at=? WHERE id=? AND status=?`,
		string(t.To), answer, formatTS(t.At), t.ID, string(domain.StatusPending))
	if err != nil {
		return false, fmt.Errorf("update help request status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM help_requests WHERE id=?`, t.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	evtType := events.HelpRequestUnresolved
	payload := events.EventPayload{"status": string(t.To)}
	if t.To == domain.StatusResolved {
		evtType = events.HelpRequestResolved
		payload["resolved_answer"] = t.ResolvedAnswer
	}
	if err := r.Events.Append(ctx, tx, evtType, "help_request", t.ID, payload); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// SetSupervisorReply stores the supervisor's note regardless of status.
func (r Repo) SetSupervisorReply(ctx context.Context, id, reply string, at time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE help_requests SET supervisor_reply=?, updated_at=? WHERE id=?`, reply, formatTS(at), id)
	if err != nil {
		return fmt.Errorf("update supervisor reply: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := r.Events.Append(ctx, tx, events.HelpRequestReplied, "help_request", id, events.EventPayload{"supervisor_reply": reply}); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestEvents returns the newest n audit events, newest first.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
