package engine

import (
	"context"
	"strings"

	"frontdesk/internal/domain"
)

// Queries are the read-only help request projections.
type Queries struct {
	Requests RequestStore
}

func (q Queries) ListPending(ctx context.Context) ([]domain.HelpRequest, error) {
	return q.list(ctx, domain.RequestFilter{Status: domain.StatusPending})
}

// ListAll returns every help request in creation order.
func (q Queries) ListAll(ctx context.Context) ([]domain.HelpRequest, error) {
	return q.list(ctx, domain.RequestFilter{})
}

// ListResolvedFor returns the resolved answers for one customer.
func (q Queries) ListResolvedFor(ctx context.Context, customerID string) ([]domain.ResolvedAnswer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, domain.Validation("customer id is required")
	}
	reqs, err := q.list(ctx, domain.RequestFilter{Status: domain.StatusResolved, CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ResolvedAnswer, 0, len(reqs))
	for _, r := range reqs {
		if r.Status != domain.StatusResolved || r.ResolvedAnswer == nil {
			continue
		}
		a := domain.ResolvedAnswer{Question: r.Question, ResolvedAnswer: *r.ResolvedAnswer}
		if r.SupervisorReply != nil {
			a.SupervisorReply = *r.SupervisorReply
		}
		out = append(out, a)
	}
	return out, nil
}

func (q Queries) list(ctx context.Context, f domain.RequestFilter) ([]domain.HelpRequest, error) {
	reqs, err := q.Requests.ListRequests(ctx, f)
	if err != nil {
		return nil, domain.Storage("help_request.list", err)
	}
	if reqs == nil {
		reqs = []domain.HelpRequest{}
	}
	return reqs, nil
}
