// Package app wires a configured frontdesk instance: stores, knowledge base,
// notification sinks, voice token issuer, and the engine on top of them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-redis/redis/v8"

	"frontdesk/internal/config"
	"frontdesk/internal/db"
	"frontdesk/internal/domain"
	"frontdesk/internal/dynamo"
	"frontdesk/internal/engine"
	"frontdesk/internal/events"
	"frontdesk/internal/kb"
	"frontdesk/internal/kb/redisstore"
	"frontdesk/internal/migrate"
	"frontdesk/internal/notify"
	"frontdesk/internal/paramstore"
	"frontdesk/internal/repo"
	"frontdesk/internal/voice"
)

// EventLog reads the audit trail. Only the sqlite backend records one.
type EventLog interface {
	LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error)
}

// Context is a fully wired instance. Close releases everything it opened.
type Context struct {
	Config *config.Config
	Engine *engine.Engine
	Events EventLog
	// Voice is nil when no voice credentials are configured.
	Voice  *voice.Issuer
	Logger *slog.Logger

	closers []func()
}

// Open builds the stores and engine described by cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Context, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		var opts []func(*awsconfig.LoadOptions) error
		if region := cfg.Storage.DynamoDB.Region; region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		loaded, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &loaded
		return loaded, nil
	}

	deps := engine.Deps{Logger: logger}
	switch cfg.Storage.Backend {
	case config.BackendDynamoDB:
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		client, err := dynamo.New(awsdynamodb.NewFromConfig(ac, func(o *awsdynamodb.Options) {
			if ep := cfg.Storage.DynamoDB.Endpoint; ep != "" {
				o.BaseEndpoint = aws.String(ep)
			}
		}), cfg.Storage.DynamoDB.RequestsTable, cfg.Storage.DynamoDB.KnowledgeTable)
		if err != nil {
			return nil, err
		}
		deps.Requests, deps.Knowledge = client, client
	default:
		conn, err := openSQLite(cfg.Storage.Workspace)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { conn.Close() })
		r := repo.Repo{DB: conn, Events: events.Writer{}}
		deps.Requests, deps.Knowledge = r, r
		c.Events = r
	}

	if cfg.Knowledge.Backend == config.BackendRedis {
		store, err := openRedis(ctx, cfg.Knowledge.Redis)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { store.Close() })
		deps.Knowledge = store
	}

	var sinks notify.Multi
	if cfg.Notifications.Log {
		sinks = append(sinks, notify.Log{Logger: logger})
	}
	if len(cfg.Notifications.Webhooks) > 0 {
		hooks := notify.NewWebhooks(cfg.Notifications.Webhooks, &http.Client{}, logger)
		c.closers = append(c.closers, hooks.Close)
		sinks = append(sinks, hooks)
	}
	deps.Notifier = sinks

	if v := cfg.Voice; v.APIKey != "" {
		var getter paramstore.Getter
		if v.APISecret == "" && v.APISecretParam != "" {
			ac, err := loadAWS()
			if err != nil {
				return nil, err
			}
			ps, err := paramstore.New(awsssm.NewFromConfig(ac))
			if err != nil {
				return nil, err
			}
			getter = ps
		}
		secret, err := paramstore.Secret(ctx, getter, v.APISecret, v.APISecretParam)
		if err != nil {
			return nil, fmt.Errorf("voice api secret: %w", err)
		}
		if secret != "" {
			c.Voice = &voice.Issuer{APIKey: v.APIKey, APISecret: secret, TTL: v.TokenTTL}
		}
	}

	e, err := engine.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	c.Engine = e
	return c, nil
}

// Close stops the engine's timers and closes the stores and sinks, in the
// reverse order they were opened.
func (c *Context) Close() {
	if c.Engine != nil {
		c.Engine.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func openSQLite(workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return conn, nil
}

type redisKnowledge struct {
	*redisstore.Store
	client redis.UniversalClient
}

func (r redisKnowledge) Close() error { return r.client.Close() }

func openRedis(ctx context.Context, cfg config.RedisConfig) (redisKnowledge, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	store, err := redisstore.New(ctx, client, cfg.Key)
	if err != nil {
		client.Close()
		return redisKnowledge{}, err
	}
	return redisKnowledge{Store: store, client: client}, nil
}

var _ kb.Store = redisKnowledge{}
