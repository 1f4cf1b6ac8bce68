package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"frontdesk/internal/clock"
	"frontdesk/internal/config"
	"frontdesk/internal/domain"
	"frontdesk/internal/escalation"
	"frontdesk/internal/events"
	"frontdesk/internal/kb"
	"frontdesk/internal/metrics"
	"frontdesk/internal/normalize"
	"frontdesk/internal/notify"
)

// RequestStore persists help requests. TransitionRequest must apply the
// change only while the stored status is pending and report whether it did.
type RequestStore interface {
	CreateRequest(ctx context.Context, req domain.HelpRequest) error
	GetRequest(ctx context.Context, id string) (domain.HelpRequest, error)
	ListRequests(ctx context.Context, f domain.RequestFilter) ([]domain.HelpRequest, error)
	TransitionRequest(ctx context.Context, t domain.Transition) (bool, error)
	SetSupervisorReply(ctx context.Context, id, reply string, at time.Time) error
}

type Deps struct {
	Requests  RequestStore
	Knowledge kb.Store
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Logger    *slog.Logger
	NewID     func() string
}

// Engine owns the help request lifecycle: answering from the knowledge
// base, escalating misses, and the single pending to terminal transition.
type Engine struct {
	Requests  RequestStore
	Cache     *kb.Cache
	Scheduler *escalation.Scheduler
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Config    *config.Config
	Clock     clock.Clock
	Logger    *slog.Logger
	NewID     func() string
}

func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	if deps.Requests == nil || deps.Knowledge == nil {
		return nil, errors.New("engine: request and knowledge stores are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Engine{
		Requests:  deps.Requests,
		Cache:     kb.New(deps.Knowledge, deps.Clock.Now, deps.Logger),
		Scheduler: escalation.NewScheduler(deps.Clock, deps.Logger),
		Notifier:  deps.Notifier,
		Metrics:   deps.Metrics,
		Config:    cfg,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
		NewID:     deps.NewID,
	}, nil
}

func (e *Engine) now() time.Time {
	return e.Clock.Now().UTC()
}

// Close cancels armed timers and waits for running timeouts.
func (e *Engine) Close() {
	e.Scheduler.Stop()
	e.Metrics.ArmedTimers.Set(0)
}

// AskResult is returned for every submitted question. RequestID is set only
// when the question was escalated.
type AskResult struct {
	Answer     string `json:"answer"`
	CustomerID string `json:"customer_id"`
	RequestID  string `json:"request_id,omitempty"`
	Escalated  bool   `json:"escalated"`
}

// Ask answers question from the knowledge base, or records a pending help
// request and returns the fallback answer.
func (e *Engine) Ask(ctx context.Context, question, customerID string) (AskResult, error) {
	if strings.TrimSpace(question) == "" {
		return AskResult{}, domain.Validation("question is required")
	}
	if normalize.Question(question) == "" {
		return AskResult{}, domain.Validation("question %q has no content after normalization", question)
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		customerID = e.NewID()
	}
	e.Metrics.QuestionsAsked.Inc()

	answer, ok, err := e.Cache.Lookup(ctx, question)
	if err != nil {
		return AskResult{}, err
	}
	if ok {
		e.Metrics.CacheLookups.WithLabelValues("hit").Inc()
		return AskResult{Answer: answer, CustomerID: customerID}, nil
	}
	e.Metrics.CacheLookups.WithLabelValues("miss").Inc()

	now := e.now()
	delay := e.Config.Escalation.Delay
	req := domain.HelpRequest{
		ID:         e.NewID(),
		Question:   question,
		CustomerID: customerID,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		DueAt:      now.Add(delay),
	}
	if err := e.Requests.CreateRequest(ctx, req); err != nil {
		return AskResult{}, domain.Storage("help_request.create", err)
	}
	e.Metrics.Escalations.Inc()
	e.arm(req.ID, delay)
	e.Logger.Info("help request escalated", "request_id", req.ID, "customer_id", customerID, "due_at", req.DueAt)
	e.Notifier.Notify(ctx, notify.Notification{
		Type:       events.HelpRequestEscalated,
		RequestID:  req.ID,
		CustomerID: customerID,
		Question:   question,
		At:         now,
	})
	return AskResult{
		Answer:     e.Config.Escalation.FallbackAnswer,
		CustomerID: customerID,
		RequestID:  req.ID,
		Escalated:  true,
	}, nil
}

func (e *Engine) arm(id string, delay time.Duration) {
	e.Scheduler.Arm(id, delay, e.onTimeout)
	e.Metrics.ArmedTimers.Set(float64(e.Scheduler.Pending()))
}

func (e *Engine) onTimeout(id string) {
	e.Metrics.ArmedTimers.Set(float64(e.Scheduler.Pending()))
	if _, err := e.TimeoutFire(context.Background(), id); err != nil {
		e.Logger.Error("escalation timeout failed", "request_id", id, "err", err)
	}
}

// TimeoutFire moves request id to unresolved if it is still pending. It
// reports whether this call made the transition. Storage errors are retried
// before giving up, in which case the request stays pending for the next
// sweep.
func (e *Engine) TimeoutFire(ctx context.Context, id string) (bool, error) {
	retries := e.Config.Escalation.TimeoutRetries
	for attempt := 0; ; attempt++ {
		won, err := e.Requests.TransitionRequest(ctx, domain.Transition{ID: id, To: domain.StatusUnresolved, At: e.now()})
		if err == nil {
			if won {
				e.afterUnresolved(ctx, id)
			}
			return won, nil
		}
		err = domain.Storage("help_request.timeout", err)
		if !errors.Is(err, domain.ErrStorage) {
			return false, err
		}
		if attempt >= retries || ctx.Err() != nil {
			e.Logger.Error("timeout transition abandoned, request left pending", "request_id", id, "attempts", attempt+1, "err", err)
			return false, err
		}
		e.Metrics.TimeoutRetries.Inc()
		e.Logger.Warn("timeout transition failed, retrying", "request_id", id, "attempt", attempt+1, "err", err)
		e.Clock.Sleep(e.Config.Escalation.RetryBackoff)
	}
}

func (e *Engine) afterUnresolved(ctx context.Context, id string) {
	e.Metrics.Transitions.WithLabelValues(string(domain.StatusUnresolved)).Inc()
	n := notify.Notification{Type: events.HelpRequestUnresolved, RequestID: id, At: e.now()}
	if req, err := e.Requests.GetRequest(ctx, id); err == nil {
		n.CustomerID = req.CustomerID
		n.Question = req.Question
	}
	e.Logger.Info("help request unresolved", "request_id", id)
	e.Notifier.Notify(ctx, n)
}

type ResolveResult struct {
	ResolvedAnswer string `json:"resolved_answer"`
	CustomerID     string `json:"customer_id"`
	CacheUpdated   bool   `json:"cache_updated"`
}

// Resolve records the supervisor's answer for a pending request and folds
// it into the knowledge base. A failed knowledge base write is reported in
// the result but does not undo the resolution.
func (e *Engine) Resolve(ctx context.Context, id, answer string) (ResolveResult, error) {
	if strings.TrimSpace(answer) == "" {
		return ResolveResult{}, domain.Validation("answer is required")
	}
	req, err := e.Requests.GetRequest(ctx, id)
	if err != nil {
		return ResolveResult{}, domain.Storage("help_request.get", err)
	}
	if req.Status.Terminal() {
		return ResolveResult{}, fmt.Errorf("%w: help request %s is already %s", domain.ErrInvalidTransition, id, req.Status)
	}
	now := e.now()
	won, err := e.Requests.TransitionRequest(ctx, domain.Transition{ID: id, To: domain.StatusResolved, ResolvedAnswer: answer, At: now})
	if err != nil {
		return ResolveResult{}, domain.Storage("help_request.resolve", err)
	}
	if !won {
		return ResolveResult{}, fmt.Errorf("%w: help request %s was closed concurrently", domain.ErrInvalidTransition, id)
	}
	e.Scheduler.Cancel(id)
	e.Metrics.ArmedTimers.Set(float64(e.Scheduler.Pending()))
	e.Metrics.Transitions.WithLabelValues(string(domain.StatusResolved)).Inc()
	e.Metrics.ResolutionDuration.Observe(now.Sub(req.CreatedAt).Seconds())

	res := ResolveResult{ResolvedAnswer: answer, CustomerID: req.CustomerID, CacheUpdated: true}
	if _, err := e.Cache.Upsert(ctx, req.Question, answer); err != nil {
		res.CacheUpdated = false
		e.Metrics.CacheUpdateFailures.Inc()
		e.Logger.Error("knowledge base update after resolve failed", "request_id", id, "err", err)
	}
	e.Logger.Info("help request resolved", "request_id", id, "customer_id", req.CustomerID)
	e.Notifier.Notify(ctx, notify.Notification{
		Type:       events.HelpRequestResolved,
		RequestID:  id,
		CustomerID: req.CustomerID,
		Question:   req.Question,
		Answer:     answer,
		At:         now,
	})
	return res, nil
}

// UpdateSupervisorReply attaches a free-text note to a request in any
// status and returns the updated request.
func (e *Engine) UpdateSupervisorReply(ctx context.Context, id, reply string) (domain.HelpRequest, error) {
	if strings.TrimSpace(reply) == "" {
		return domain.HelpRequest{}, domain.Validation("supervisor reply is required")
	}
	if err := e.Requests.SetSupervisorReply(ctx, id, reply, e.now()); err != nil {
		return domain.HelpRequest{}, domain.Storage("help_request.reply", err)
	}
	req, err := e.Requests.GetRequest(ctx, id)
	if err != nil {
		return domain.HelpRequest{}, domain.Storage("help_request.get", err)
	}
	return req, nil
}

func (e *Engine) UpsertKnowledge(ctx context.Context, question, answer string) (domain.KnowledgeEntry, error) {
	return e.Cache.Upsert(ctx, question, answer)
}

func (e *Engine) ListKnowledge(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	return e.Cache.List(ctx)
}

func (e *Engine) Queries() Queries {
	return Queries{Requests: e.Requests}
}
