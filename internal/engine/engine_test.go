package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frontdesk/internal/clock"
	"frontdesk/internal/config"
	"frontdesk/internal/db"
	"frontdesk/internal/domain"
	"frontdesk/internal/engine"
	"frontdesk/internal/events"
	"frontdesk/internal/kb"
	"frontdesk/internal/migrate"
	"frontdesk/internal/notify"
	"frontdesk/internal/repo"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

const fallback = "Let me check with my supervisor and get back to you."

type recorder struct {
	mu sync.Mutex
	ns []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	r.ns = append(r.ns, n)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ns))
	for _, n := range r.ns {
		out = append(out, n.Type)
	}
	return out
}

type testEnv struct {
	Engine *engine.Engine
	Repo   repo.Repo
	Clock  clock.Clock
	Notes  *recorder
	Ctx    context.Context
}

type envOption func(*config.Config, *engine.Deps)

func withRealClock(delay time.Duration) envOption {
	return func(cfg *config.Config, d *engine.Deps) {
		cfg.Escalation.Delay = delay
		d.Clock = clock.Real()
	}
}

func withStores(wrap func(repo.Repo) (engine.RequestStore, kb.Store)) envOption {
	return func(_ *config.Config, d *engine.Deps) {
		d.Requests, d.Knowledge = wrap(d.Requests.(repo.Repo))
	}
}

func newTestEnv(t *testing.T, opts ...envOption) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	r := repo.Repo{DB: conn, Events: events.Writer{}}
	cfg := config.Default()
	cfg.Escalation.RetryBackoff = time.Millisecond
	notes := &recorder{}
	deps := engine.Deps{
		Requests:  r,
		Knowledge: r,
		Notifier:  notes,
		Clock:     clock.Fake(t0),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	eng, err := engine.New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return testEnv{Engine: eng, Repo: r, Clock: deps.Clock, Notes: notes, Ctx: context.Background()}
}

func (env testEnv) fake(t *testing.T) *clock.FakeClock {
	t.Helper()
	fc, ok := env.Clock.(*clock.FakeClock)
	require.True(t, ok)
	return fc
}

func (env testEnv) status(t *testing.T, id string) domain.HelpRequest {
	t.Helper()
	req, err := env.Repo.GetRequest(env.Ctx, id)
	require.NoError(t, err)
	return req
}

func TestResolveBeatsTimeout(t *testing.T) {
	env := newTestEnv(t)
	clk := env.fake(t)

	res, err := env.Engine.Ask(env.Ctx, "Do you take walk-ins?", "cust-1")
	require.NoError(t, err)
	require.True(t, res.Escalated)
	require.Equal(t, fallback, res.Answer)
	require.True(t, env.Engine.Scheduler.Armed(res.RequestID))

	clk.Advance(time.Second)
	out, err := env.Engine.Resolve(env.Ctx, res.RequestID, "A")
	require.NoError(t, err)
	require.Equal(t, "A", out.ResolvedAnswer)
	require.Equal(t, "cust-1", out.CustomerID)
	require.True(t, out.CacheUpdated)
	require.False(t, env.Engine.Scheduler.Armed(res.RequestID))

	e, err := env.Repo.FindAnswer(env.Ctx, "do you take walk-ins")
	require.NoError(t, err)
	require.Equal(t, "A", e.Answer)

	clk.Advance(300 * time.Second)
	won, err := env.Engine.TimeoutFire(env.Ctx, res.RequestID)
	require.NoError(t, err)
	require.False(t, won)

	req := env.status(t, res.RequestID)
	require.Equal(t, domain.StatusResolved, req.Status)
	require.Equal(t, "A", *req.ResolvedAnswer)
	require.Equal(t, []string{events.HelpRequestEscalated, events.HelpRequestResolved}, env.Notes.types())
}

func TestTimeoutBeatsResolve(t *testing.T) {
	env := newTestEnv(t, withRealClock(50*time.Millisecond))

	res, err := env.Engine.Ask(env.Ctx, "Can I bring my dog?", "")
	require.NoError(t, err)
	require.NotEmpty(t, res.CustomerID)

	time.Sleep(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return env.status(t, res.RequestID).Status == domain.StatusUnresolved
	}, 2*time.Second, 10*time.Millisecond)

	_, err = env.Engine.Resolve(env.Ctx, res.RequestID, "Yes")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	entries, err := env.Engine.ListKnowledge(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
	req := env.status(t, res.RequestID)
	require.Nil(t, req.ResolvedAnswer)
}

func TestAskAnswersFromCache(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpsertKnowledge(env.Ctx, "What are your hours?", "9-7")
	require.NoError(t, err)

	res, err := env.Engine.Ask(env.Ctx, "what are your hours", "cust-1")
	require.NoError(t, err)
	require.Equal(t, engine.AskResult{Answer: "9-7", CustomerID: "cust-1"}, res)

	all, err := env.Engine.Queries().ListAll(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Empty(t, env.Notes.types())
	require.Equal(t, 1.0, testutil.ToFloat64(env.Engine.Metrics.CacheLookups.WithLabelValues("hit")))
}

func TestMissThenResolveFillsCache(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Engine.Ask(env.Ctx, "Do you do henna?", "cust-1")
	require.NoError(t, err)
	require.Equal(t, fallback, res.Answer)
	require.Equal(t, domain.StatusPending, env.status(t, res.RequestID).Status)

	out, err := env.Engine.Resolve(env.Ctx, res.RequestID, "Yes, henna available")
	require.NoError(t, err)
	require.Equal(t, "Yes, henna available", out.ResolvedAnswer)

	again, err := env.Engine.Ask(env.Ctx, "Do you do henna?", "cust-2")
	require.NoError(t, err)
	require.False(t, again.Escalated)
	require.Equal(t, "Yes, henna available", again.Answer)

	all, err := env.Engine.Queries().ListAll(env.Ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAskValidation(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"   ", "?!", " .,? "} {
		_, err := env.Engine.Ask(env.Ctx, q, "cust-1")
		require.ErrorIs(t, err, domain.ErrValidation, q)
	}
	all, err := env.Engine.Queries().ListAll(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Equal(t, 0, env.Engine.Scheduler.Pending())
}

func TestResolveErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Resolve(env.Ctx, "missing", "x")
	require.ErrorIs(t, err, domain.ErrNotFound)

	res, err := env.Engine.Ask(env.Ctx, "Is there parking?", "cust-1")
	require.NoError(t, err)
	_, err = env.Engine.Resolve(env.Ctx, res.RequestID, " ")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.Engine.Resolve(env.Ctx, res.RequestID, "Out back")
	require.NoError(t, err)
	_, err = env.Engine.Resolve(env.Ctx, res.RequestID, "Street")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.Equal(t, "Out back", *env.status(t, res.RequestID).ResolvedAnswer)
}

func TestListResolvedFor(t *testing.T) {
	env := newTestEnv(t)
	q := env.Engine.Queries()

	_, err := q.ListResolvedFor(env.Ctx, "")
	require.ErrorIs(t, err, domain.ErrValidation)

	a, err := env.Engine.Ask(env.Ctx, "Q1?", "cust-1")
	require.NoError(t, err)
	b, err := env.Engine.Ask(env.Ctx, "Q2?", "cust-1")
	require.NoError(t, err)
	c, err := env.Engine.Ask(env.Ctx, "Q3?", "cust-1")
	require.NoError(t, err)
	d, err := env.Engine.Ask(env.Ctx, "Q4?", "cust-2")
	require.NoError(t, err)

	_, err = env.Engine.Resolve(env.Ctx, a.RequestID, "A1")
	require.NoError(t, err)
	_, err = env.Engine.UpdateSupervisorReply(env.Ctx, a.RequestID, "thanks for waiting")
	require.NoError(t, err)
	_, err = env.Engine.TimeoutFire(env.Ctx, b.RequestID)
	require.NoError(t, err)
	_, err = env.Engine.Resolve(env.Ctx, d.RequestID, "A4")
	require.NoError(t, err)

	got, err := q.ListResolvedFor(env.Ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, []domain.ResolvedAnswer{{Question: "Q1?", ResolvedAnswer: "A1", SupervisorReply: "thanks for waiting"}}, got)

	pending, err := q.ListPending(env.Ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, c.RequestID, pending[0].ID)

	none, err := q.ListResolvedFor(env.Ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestConcurrentResolveAndTimeoutSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		res, err := env.Engine.Ask(env.Ctx, fmt.Sprintf("Race question %d?", i), "cust-1")
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			resolved atomic.Bool
			timedOut atomic.Bool
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Resolve(env.Ctx, res.RequestID, "answer")
			if err == nil {
				resolved.Store(true)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		}()
		go func() {
			defer wg.Done()
			won, err := env.Engine.TimeoutFire(env.Ctx, res.RequestID)
			assert.NoError(t, err)
			timedOut.Store(won)
		}()
		wg.Wait()

		require.NotEqual(t, resolved.Load(), timedOut.Load())
		req := env.status(t, res.RequestID)
		if resolved.Load() {
			require.Equal(t, domain.StatusResolved, req.Status)
			require.NotNil(t, req.ResolvedAnswer)
		} else {
			require.Equal(t, domain.StatusUnresolved, req.Status)
			require.Nil(t, req.ResolvedAnswer)
		}
	}
}

type flakyRequests struct {
	engine.RequestStore
	failures atomic.Int32
}

func (f *flakyRequests) TransitionRequest(ctx context.Context, t domain.Transition) (bool, error) {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return false, errors.New("database is locked")
	}
	return f.RequestStore.TransitionRequest(ctx, t)
}

func TestTimeoutRetriesStorageErrors(t *testing.T) {
	flaky := &flakyRequests{}
	env := newTestEnv(t, withRealClock(time.Hour), withStores(func(r repo.Repo) (engine.RequestStore, kb.Store) {
		flaky.RequestStore = r
		return flaky, r
	}))

	res, err := env.Engine.Ask(env.Ctx, "Gift cards?", "cust-1")
	require.NoError(t, err)

	flaky.failures.Store(2)
	won, err := env.Engine.TimeoutFire(env.Ctx, res.RequestID)
	require.NoError(t, err)
	require.True(t, won)
	require.Equal(t, 2.0, testutil.ToFloat64(env.Engine.Metrics.TimeoutRetries))

	res, err = env.Engine.Ask(env.Ctx, "Loyalty card?", "cust-1")
	require.NoError(t, err)
	flaky.failures.Store(10)
	won, err = env.Engine.TimeoutFire(env.Ctx, res.RequestID)
	require.False(t, won)
	require.ErrorIs(t, err, domain.ErrStorage)
	require.Equal(t, domain.StatusPending, env.status(t, res.RequestID).Status)
	require.EqualValues(t, 10-4, flaky.failures.Load())
}

type failingWrites struct {
	engine.RequestStore
}

func (failingWrites) CreateRequest(context.Context, domain.HelpRequest) error {
	return errors.New("disk full")
}

func (failingWrites) TransitionRequest(context.Context, domain.Transition) (bool, error) {
	return false, errors.New("disk full")
}

func TestAskCreateFailureLeavesNoRequest(t *testing.T) {
	env := newTestEnv(t, withStores(func(r repo.Repo) (engine.RequestStore, kb.Store) {
		return failingWrites{RequestStore: r}, r
	}))

	_, err := env.Engine.Ask(env.Ctx, "Do you sell gift cards?", "cust-1")
	require.ErrorIs(t, err, domain.ErrStorage)
	require.Equal(t, 0, env.Engine.Scheduler.Pending())
	require.Empty(t, env.Notes.types())

	all, err := env.Engine.Queries().ListAll(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestResolveTransitionFailureLeavesRequestPending(t *testing.T) {
	var failing failingWrites
	env := newTestEnv(t, withStores(func(r repo.Repo) (engine.RequestStore, kb.Store) {
		failing.RequestStore = r
		return &switchable{real: r, broken: &failing}, r
	}))
	sw := env.Engine.Requests.(*switchable)

	res, err := env.Engine.Ask(env.Ctx, "Can I bring my dog?", "cust-1")
	require.NoError(t, err)

	sw.fail.Store(true)
	_, err = env.Engine.Resolve(env.Ctx, res.RequestID, "Yes, on a leash")
	require.ErrorIs(t, err, domain.ErrStorage)
	sw.fail.Store(false)

	req := env.status(t, res.RequestID)
	require.Equal(t, domain.StatusPending, req.Status)
	require.Nil(t, req.ResolvedAnswer)
	require.Equal(t, 1, env.Engine.Scheduler.Pending())

	entries, err := env.Engine.ListKnowledge(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, []string{events.HelpRequestEscalated}, env.Notes.types())
}

// switchable routes writes to broken while fail is set.
type switchable struct {
	real   engine.RequestStore
	broken engine.RequestStore
	fail   atomic.Bool
}

func (s *switchable) store() engine.RequestStore {
	if s.fail.Load() {
		return s.broken
	}
	return s.real
}

func (s *switchable) CreateRequest(ctx context.Context, req domain.HelpRequest) error {
	return s.store().CreateRequest(ctx, req)
}

func (s *switchable) GetRequest(ctx context.Context, id string) (domain.HelpRequest, error) {
	return s.store().GetRequest(ctx, id)
}

func (s *switchable) ListRequests(ctx context.Context, f domain.RequestFilter) ([]domain.HelpRequest, error) {
	return s.store().ListRequests(ctx, f)
}

func (s *switchable) TransitionRequest(ctx context.Context, t domain.Transition) (bool, error) {
	return s.store().TransitionRequest(ctx, t)
}

func (s *switchable) SetSupervisorReply(ctx context.Context, id, reply string, at time.Time) error {
	return s.store().SetSupervisorReply(ctx, id, reply, at)
}

type brokenUpserts struct {
	kb.Store
}

func (brokenUpserts) UpsertAnswer(context.Context, domain.KnowledgeEntry) error {
	return errors.New("read-only replica")
}

func TestResolveSurvivesCacheFailure(t *testing.T) {
	env := newTestEnv(t, withStores(func(r repo.Repo) (engine.RequestStore, kb.Store) {
		return r, brokenUpserts{Store: r}
	}))

	res, err := env.Engine.Ask(env.Ctx, "Do you sell shampoo?", "cust-1")
	require.NoError(t, err)
	out, err := env.Engine.Resolve(env.Ctx, res.RequestID, "Yes")
	require.NoError(t, err)
	require.False(t, out.CacheUpdated)
	require.Equal(t, domain.StatusResolved, env.status(t, res.RequestID).Status)
	require.Equal(t, 1.0, testutil.ToFloat64(env.Engine.Metrics.CacheUpdateFailures))
}

func TestUpdateSupervisorReply(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpdateSupervisorReply(env.Ctx, "missing", "hello")
	require.ErrorIs(t, err, domain.ErrNotFound)

	res, err := env.Engine.Ask(env.Ctx, "Do you color hair?", "cust-1")
	require.NoError(t, err)
	_, err = env.Engine.UpdateSupervisorReply(env.Ctx, res.RequestID, "")
	require.ErrorIs(t, err, domain.ErrValidation)

	req, err := env.Engine.UpdateSupervisorReply(env.Ctx, res.RequestID, "Checking with the stylist")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, req.Status)
	require.Equal(t, "Checking with the stylist", *req.SupervisorReply)

	_, err = env.Engine.TimeoutFire(env.Ctx, res.RequestID)
	require.NoError(t, err)
	req, err = env.Engine.UpdateSupervisorReply(env.Ctx, res.RequestID, "Sorry we missed you")
	require.NoError(t, err)
	require.Equal(t, domain.StatusUnresolved, req.Status)
	require.Equal(t, "Sorry we missed you", *req.SupervisorReply)
}

func seedPending(t *testing.T, env testEnv, id string, due time.Time) {
	t.Helper()
	require.NoError(t, env.Repo.CreateRequest(env.Ctx, domain.HelpRequest{
		ID: id, Question: "Seeded " + id, CustomerID: "cust-1", Status: domain.StatusPending,
		CreatedAt: due.Add(-5 * time.Minute), UpdatedAt: due.Add(-5 * time.Minute), DueAt: due,
	}))
}

func TestRecoverTimesOutOverdueAndRearmsRest(t *testing.T) {
	env := newTestEnv(t)
	clk := env.fake(t)
	seedPending(t, env, "overdue", t0.Add(-time.Minute))
	seedPending(t, env, "later", t0.Add(2*time.Minute))

	rep, err := env.Engine.Recover(env.Ctx)
	require.NoError(t, err)
	require.Equal(t, engine.RecoverReport{TimedOut: 1, Rearmed: 1}, rep)
	require.Equal(t, domain.StatusUnresolved, env.status(t, "overdue").Status)
	require.True(t, env.Engine.Scheduler.Armed("later"))

	clk.Advance(time.Minute)
	require.Equal(t, domain.StatusPending, env.status(t, "later").Status)
	clk.Advance(time.Minute)
	require.Equal(t, domain.StatusUnresolved, env.status(t, "later").Status)
	require.Equal(t, []string{events.HelpRequestUnresolved, events.HelpRequestUnresolved}, env.Notes.types())
}

func TestSweepIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedPending(t, env, "a", t0.Add(-2*time.Minute))
	seedPending(t, env, "b", t0)
	seedPending(t, env, "c", t0.Add(time.Minute))

	n, err := env.Engine.Sweep(env.Ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = env.Engine.Sweep(env.Ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, domain.StatusPending, env.status(t, "c").Status)
}

func TestRunSweeper(t *testing.T) {
	env := newTestEnv(t)
	clk := env.fake(t)
	seedPending(t, env, "stale", t0.Add(30*time.Second))

	ctx, cancel := context.WithCancel(env.Ctx)
	done := make(chan error, 1)
	go func() { done <- env.Engine.RunSweeper(ctx, time.Minute) }()

	clk.WaitForTimers(1)
	clk.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return env.status(t, "stale").Status == domain.StatusUnresolved
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.ErrorIs(t, env.Engine.RunSweeper(env.Ctx, 0), domain.ErrValidation)
}

func TestNewRequiresStores(t *testing.T) {
	_, err := engine.New(config.Default(), engine.Deps{})
	require.Error(t, err)
	_, err = engine.New(nil, engine.Deps{})
	require.Error(t, err)
}
