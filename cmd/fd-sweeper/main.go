// Command fd-sweeper is an AWS Lambda function, triggered by a scheduled
// EventBridge rule, that times out overdue help requests stored in DynamoDB.
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"frontdesk/internal/app"
	"frontdesk/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := lambdaConfig(os.Getenv)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	a, err := app.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to open frontdesk", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	h := handler{sweep: a.Engine.Sweep, logger: logger}
	lambda.Start(h.Handle)
}

// lambdaConfig builds the DynamoDB-backed config from the function's
// environment.
func lambdaConfig(getenv func(string) string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := getenv("FRONTDESK_CONFIG"); path != "" {
		if cfg, err = config.FromFile(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	cfg.Storage.Backend = config.BackendDynamoDB
	if v := getenv("REQUESTS_TABLE"); v != "" {
		cfg.Storage.DynamoDB.RequestsTable = v
	}
	if v := getenv("KNOWLEDGE_TABLE"); v != "" {
		cfg.Storage.DynamoDB.KnowledgeTable = v
	}
	if v := getenv("AWS_REGION"); v != "" && cfg.Storage.DynamoDB.Region == "" {
		cfg.Storage.DynamoDB.Region = v
	}
	if v := getenv("TIMEOUT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.Escalation.TimeoutRetries = n
	}
	cfg.Notifications.Log = true
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

type Result struct {
	TimedOut int    `json:"timed_out"`
	Error    string `json:"error,omitempty"`
}

type handler struct {
	sweep  func(context.Context) (int, error)
	logger *slog.Logger
}

// Handle runs one sweep. Partial failures are reported in the result and
// returned so the invocation is marked failed and retried.
func (h handler) Handle(ctx context.Context, evt events.CloudWatchEvent) (Result, error) {
	start := time.Now()
	n, err := h.sweep(ctx)
	res := Result{TimedOut: n}
	if err != nil {
		res.Error = err.Error()
		h.logger.Error("sweep failed", "event_id", evt.ID, "timed_out", n, "err", err)
		return res, err
	}
	h.logger.Info("sweep complete", "event_id", evt.ID, "timed_out", n, "duration", time.Since(start))
	return res, nil
}
