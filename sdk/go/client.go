// Package frontdesksdk is a small client for the Frontdesk HTTP API.
package frontdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Frontdesk HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client for the API rooted at baseURL, e.g.
// http://localhost:5000/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type AskResult struct {
	Answer     string `json:"answer"`
	CustomerID string `json:"customerId"`
	RequestID  string `json:"requestId,omitempty"`
	Escalated  bool   `json:"escalated"`
}

type ResolveResult struct {
	Message        string `json:"message"`
	ResolvedAnswer string `json:"resolvedAnswer"`
	CustomerID     string `json:"customerId"`
	CacheUpdated   bool   `json:"cacheUpdated"`
}

// HelpRequest represents the API help request model.
type HelpRequest struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	CustomerID      string    `json:"customerId"`
	Status          string    `json:"status"`
	ResolvedAnswer  *string   `json:"resolvedAnswer,omitempty"`
	SupervisorReply *string   `json:"supervisorReply,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	DueAt           time.Time `json:"dueAt"`
}

type ResolvedAnswer struct {
	Question        string `json:"question"`
	ResolvedAnswer  string `json:"resolvedAnswer"`
	SupervisorReply string `json:"supervisorReply,omitempty"`
}

type KnowledgeEntry struct {
	Key       string    `json:"key"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Hits      int64     `json:"hits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type VoiceToken struct {
	Token    string `json:"token"`
	RoomName string `json:"roomName"`
	URL      string `json:"url,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ask submits a customer question. An empty customerID lets the server
// assign one.
func (c *Client) Ask(ctx context.Context, question, customerID string) (AskResult, error) {
	body := map[string]any{"question": question}
	if customerID != "" {
		body["customerId"] = customerID
	}
	var resp AskResult
	err := c.do(ctx, http.MethodPost, "helpRequests/ask", body, &resp)
	return resp, err
}

// Resolve answers a pending help request.
func (c *Client) Resolve(ctx context.Context, id, answer string) (ResolveResult, error) {
	var resp ResolveResult
	endpoint := fmt.Sprintf("helpRequests/resolve/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"answer": answer}, &resp)
	return resp, err
}

func (c *Client) Pending(ctx context.Context) ([]HelpRequest, error) {
	var resp []HelpRequest
	err := c.do(ctx, http.MethodGet, "helpRequests/pending", nil, &resp)
	return resp, err
}

func (c *Client) All(ctx context.Context) ([]HelpRequest, error) {
	var resp []HelpRequest
	err := c.do(ctx, http.MethodGet, "helpRequests/all", nil, &resp)
	return resp, err
}

// Resolved returns the answers a customer has received.
func (c *Client) Resolved(ctx context.Context, customerID string) ([]ResolvedAnswer, error) {
	var resp []ResolvedAnswer
	endpoint := fmt.Sprintf("helpRequests/resolved/%s", url.PathEscape(customerID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SupervisorReply attaches a note to a help request and returns the request.
func (c *Client) SupervisorReply(ctx context.Context, id, reply string) (HelpRequest, error) {
	var resp struct {
		Request HelpRequest `json:"request"`
	}
	endpoint := fmt.Sprintf("helpRequests/%s/supervisor-reply", url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"supervisorReply": reply}, &resp)
	return resp.Request, err
}

func (c *Client) Knowledge(ctx context.Context) ([]KnowledgeEntry, error) {
	var resp []KnowledgeEntry
	err := c.do(ctx, http.MethodGet, "knowledgeBase", nil, &resp)
	return resp, err
}

func (c *Client) UpsertKnowledge(ctx context.Context, question, answer string) (KnowledgeEntry, error) {
	var resp struct {
		Entry KnowledgeEntry `json:"entry"`
	}
	err := c.do(ctx, http.MethodPost, "knowledgeBase", map[string]any{"question": question, "answer": answer}, &resp)
	return resp.Entry, err
}

// VoiceToken requests a room access token for identity.
func (c *Client) VoiceToken(ctx context.Context, identity, room string) (VoiceToken, error) {
	var resp VoiceToken
	endpoint := fmt.Sprintf("livekit/get-token/%s/%s", url.PathEscape(identity), url.PathEscape(room))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
