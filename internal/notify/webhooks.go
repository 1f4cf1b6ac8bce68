package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"frontdesk/internal/config"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultQueueSize      = 256
)

type hook struct {
	url     string
	secret  string
	timeout time.Duration
	filter  eventFilter
}

// Webhooks posts notifications to configured HTTP endpoints from a single
// background worker. Notify never blocks; a full queue drops the
// notification with a warning.
type Webhooks struct {
	hooks  []hook
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Notification
	done   chan struct{}
}

func NewWebhooks(cfgs []config.WebhookConfig, client *http.Client, logger *slog.Logger) *Webhooks {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhooks{
		client: client,
		logger: logger,
		queue:  make(chan Notification, defaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, c := range cfgs {
		if c.Enabled != nil && !*c.Enabled {
			continue
		}
		if strings.TrimSpace(c.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if c.TimeoutSeconds > 0 {
			timeout = time.Duration(c.TimeoutSeconds) * time.Second
		}
		w.hooks = append(w.hooks, hook{url: c.URL, secret: c.Secret, timeout: timeout, filter: newEventFilter(c.Events)})
	}
	go w.run()
	return w
}

func (w *Webhooks) Notify(_ context.Context, n Notification) {
	if len(w.hooks) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- n:
	default:
		w.logger.Warn("webhook queue full, dropping notification", "type", n.Type, "request_id", n.RequestID)
	}
}

// Close stops accepting notifications and waits for queued deliveries.
func (w *Webhooks) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Webhooks) run() {
	defer close(w.done)
	for n := range w.queue {
		for _, h := range w.hooks {
			if !h.filter.match(n.Type) {
				continue
			}
			if err := w.post(h, n); err != nil {
				w.logger.Warn("webhook delivery failed", "url", h.url, "type", n.Type, "request_id", n.RequestID, "err", err)
			}
		}
	}
}

func (w *Webhooks) post(h hook, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Frontdesk-Event", n.Type)
	req.Header.Set("X-Frontdesk-Delivery", uuid.NewString())
	if strings.TrimSpace(h.secret) != "" {
		req.Header.Set("X-Frontdesk-Signature", "sha256="+sign(h.secret, data))
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
