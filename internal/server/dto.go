package server

import (
	"time"

	"frontdesk/internal/domain"
	"frontdesk/internal/engine"
)

// Request payloads

type AskRequest struct {
	Question   string `json:"question" example:"Do you do henna?"`
	CustomerID string `json:"customerId,omitempty" example:"caller-42"`
}

type ResolveRequest struct {
	Answer string `json:"answer" example:"Yes, henna is available on weekends."`
}

type SupervisorReplyRequest struct {
	SupervisorReply string `json:"supervisorReply"`
}

type KnowledgeUpsertRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Response payloads

type AskResponse struct {
	Answer     string `json:"answer"`
	CustomerID string `json:"customerId"`
	RequestID  string `json:"requestId,omitempty"`
	Escalated  bool   `json:"escalated"`
}

type ResolveResponse struct {
	Message        string `json:"message"`
	ResolvedAnswer string `json:"resolvedAnswer"`
	CustomerID     string `json:"customerId"`
	CacheUpdated   bool   `json:"cacheUpdated"`
}

type HelpRequestResponse struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	CustomerID      string    `json:"customerId"`
	Status          string    `json:"status" enum:"pending,resolved,unresolved"`
	ResolvedAnswer  *string   `json:"resolvedAnswer,omitempty"`
	SupervisorReply *string   `json:"supervisorReply,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	DueAt           time.Time `json:"dueAt"`
}

type ResolvedAnswerResponse struct {
	Question        string `json:"question"`
	ResolvedAnswer  string `json:"resolvedAnswer"`
	SupervisorReply string `json:"supervisorReply,omitempty"`
}

type SupervisorReplyResponse struct {
	Message         string              `json:"message"`
	SupervisorReply string              `json:"supervisorReply"`
	Request         HelpRequestResponse `json:"request"`
}

type KnowledgeEntryResponse struct {
	Key       string    `json:"key"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Hits      int64     `json:"hits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type KnowledgeUpsertResponse struct {
	Success bool                   `json:"success"`
	Entry   KnowledgeEntryResponse `json:"entry"`
}

type VoiceTokenResponse struct {
	Token    string `json:"token"`
	RoomName string `json:"roomName"`
	URL      string `json:"url,omitempty"`
}

func askResponse(r engine.AskResult) AskResponse {
	return AskResponse{Answer: r.Answer, CustomerID: r.CustomerID, RequestID: r.RequestID, Escalated: r.Escalated}
}

func helpRequestResponse(r domain.HelpRequest) HelpRequestResponse {
	return HelpRequestResponse{
		ID:              r.ID,
		Question:        r.Question,
		CustomerID:      r.CustomerID,
		Status:          string(r.Status),
		ResolvedAnswer:  r.ResolvedAnswer,
		SupervisorReply: r.SupervisorReply,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		DueAt:           r.DueAt,
	}
}

func mapHelpRequests(items []domain.HelpRequest) []HelpRequestResponse {
	out := make([]HelpRequestResponse, 0, len(items))
	for _, r := range items {
		out = append(out, helpRequestResponse(r))
	}
	return out
}

func mapResolved(items []domain.ResolvedAnswer) []ResolvedAnswerResponse {
	out := make([]ResolvedAnswerResponse, 0, len(items))
	for _, r := range items {
		out = append(out, ResolvedAnswerResponse(r))
	}
	return out
}

func knowledgeEntryResponse(e domain.KnowledgeEntry) KnowledgeEntryResponse {
	return KnowledgeEntryResponse{
		Key:       e.Key,
		Question:  e.Question,
		Answer:    e.Answer,
		Hits:      e.Hits,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func mapKnowledge(items []domain.KnowledgeEntry) []KnowledgeEntryResponse {
	out := make([]KnowledgeEntryResponse, 0, len(items))
	for _, e := range items {
		out = append(out, knowledgeEntryResponse(e))
	}
	return out
}
