package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"frontdesk/internal/engine"
	"frontdesk/internal/voice"
)

func registerHelpRequests(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ask",
		Method:      http.MethodPost,
		Path:        "/helpRequests/ask",
		Summary:     "Ask a question",
		Description: "Answers from the knowledge base or escalates to a supervisor and returns the fallback answer.",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body AskRequest `json:"body"`
	}) (*struct {
		Body AskResponse `json:"body"`
	}, error) {
		res, err := e.Ask(ctx, input.Body.Question, input.Body.CustomerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AskResponse `json:"body"`
		}{Body: askResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-help-request",
		Method:      http.MethodPost,
		Path:        "/helpRequests/resolve/{id}",
		Summary:     "Resolve a pending help request",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ResolveRequest `json:"body"`
	}) (*struct {
		Body ResolveResponse `json:"body"`
	}, error) {
		res, err := e.Resolve(ctx, input.ID, input.Body.Answer)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolveResponse `json:"body"`
		}{Body: ResolveResponse{
			Message:        "Help request resolved successfully",
			ResolvedAnswer: res.ResolvedAnswer,
			CustomerID:     res.CustomerID,
			CacheUpdated:   res.CacheUpdated,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-help-requests",
		Method:      http.MethodGet,
		Path:        "/helpRequests/pending",
		Summary:     "List pending help requests",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []HelpRequestResponse `json:"body"`
	}, error) {
		items, err := e.Queries().ListPending(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HelpRequestResponse `json:"body"`
		}{Body: mapHelpRequests(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-help-requests",
		Method:      http.MethodGet,
		Path:        "/helpRequests/all",
		Summary:     "List all help requests",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []HelpRequestResponse `json:"body"`
	}, error) {
		items, err := e.Queries().ListAll(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HelpRequestResponse `json:"body"`
		}{Body: mapHelpRequests(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-resolved-answers",
		Method:      http.MethodGet,
		Path:        "/helpRequests/resolved/{customerId}",
		Summary:     "List resolved answers for a customer",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CustomerID string `path:"customerId"`
	}) (*struct {
		Body []ResolvedAnswerResponse `json:"body"`
	}, error) {
		items, err := e.Queries().ListResolvedFor(ctx, input.CustomerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ResolvedAnswerResponse `json:"body"`
		}{Body: mapResolved(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-supervisor-reply",
		Method:      http.MethodPut,
		Path:        "/helpRequests/{id}/supervisor-reply",
		Summary:     "Attach a supervisor reply",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body SupervisorReplyRequest `json:"body"`
	}) (*struct {
		Body SupervisorReplyResponse `json:"body"`
	}, error) {
		req, err := e.UpdateSupervisorReply(ctx, input.ID, input.Body.SupervisorReply)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SupervisorReplyResponse `json:"body"`
		}{Body: SupervisorReplyResponse{
			Message:         "Supervisor reply updated",
			SupervisorReply: input.Body.SupervisorReply,
			Request:         helpRequestResponse(req),
		}}, nil
	})
}

func registerKnowledgeBase(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-knowledge",
		Method:      http.MethodGet,
		Path:        "/knowledgeBase",
		Summary:     "List knowledge base entries",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []KnowledgeEntryResponse `json:"body"`
	}, error) {
		items, err := e.ListKnowledge(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []KnowledgeEntryResponse `json:"body"`
		}{Body: mapKnowledge(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upsert-knowledge",
		Method:        http.MethodPost,
		Path:          "/knowledgeBase",
		Summary:       "Add or replace a knowledge base answer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body KnowledgeUpsertRequest `json:"body"`
	}) (*struct {
		Body KnowledgeUpsertResponse `json:"body"`
	}, error) {
		entry, err := e.UpsertKnowledge(ctx, input.Body.Question, input.Body.Answer)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KnowledgeUpsertResponse `json:"body"`
		}{Body: KnowledgeUpsertResponse{Success: true, Entry: knowledgeEntryResponse(entry)}}, nil
	})
}

func registerVoice(api huma.API, issuer *voice.Issuer, url string) {
	huma.Register(api, huma.Operation{
		OperationID: "voice-token",
		Method:      http.MethodGet,
		Path:        "/livekit/get-token/{identity}/{roomName}",
		Summary:     "Issue a voice room access token",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Identity string `path:"identity"`
		RoomName string `path:"roomName"`
	}) (*struct {
		Body VoiceTokenResponse `json:"body"`
	}, error) {
		if issuer == nil {
			return nil, handleError(voice.ErrNotConfigured)
		}
		token, err := issuer.Token(input.Identity, input.RoomName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VoiceTokenResponse `json:"body"`
		}{Body: VoiceTokenResponse{Token: token, RoomName: input.RoomName, URL: url}}, nil
	})
}
