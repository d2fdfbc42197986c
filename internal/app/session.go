// Package app wires a CLI session: configuration, the gateway to the
// authoritative side, resolved permissions and the optimistic store.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"leadflow/internal/config"
	"leadflow/internal/db"
	"leadflow/internal/domain"
	"leadflow/internal/engine"
	"leadflow/internal/engine/auth"
	"leadflow/internal/gateway"
	"leadflow/internal/logging"
	"leadflow/internal/migrate"
	"leadflow/internal/realtime"
	"leadflow/internal/store"
	"leadflow/internal/workflow"
	leadflowsdk "leadflow/sdk/go"
)

// Options selects the session mode. An empty ServerURL runs against the
// workspace database in-process.
type Options struct {
	Workspace string
	ServerURL string
	APIKey    string
	Token     string
	// Identity is required in local mode. Remote sessions take it from
	// GET /me and only use this one when the server cannot be reached.
	Identity domain.Identity
	Logger   *charmLog.Logger
	Metrics  *store.Metrics
}

// Session is one authenticated view of the pipeline.
type Session struct {
	Config   *config.Config
	Identity domain.Identity
	Perms    auth.PermissionSet
	Gateway  gateway.Gateway
	Store    *store.Store
	Logger   *charmLog.Logger

	// Exactly one of Engine and Client is set.
	Engine *engine.Engine
	Client *leadflowsdk.Client

	conn *sql.DB
}

// Open resolves configuration, identity and permissions, then builds the
// store. It does not hydrate; call Store.Hydrate when the lead list is needed.
func Open(ctx context.Context, opts Options) (*Session, error) {
	logger := logging.OrDefault(opts.Logger)
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("leadflow")
	}
	s := &Session{Config: cfg, Logger: logger}
	if strings.TrimSpace(opts.ServerURL) == "" {
		err = s.openLocal(ctx, opts)
	} else {
		err = s.openRemote(ctx, opts)
	}
	if err != nil {
		s.Close()
		return nil, err
	}
	storeOpts := []store.Option{
		store.WithIdentity(s.Identity),
		store.WithMachine(workflow.Machine{AdvanceOnApprove: cfg.ApproveAdvances()}),
		store.WithPermissions(s.Perms),
		store.WithLogger(logger.WithPrefix("store")),
	}
	if opts.Metrics != nil {
		storeOpts = append(storeOpts, store.WithMetrics(opts.Metrics))
	}
	s.Store = store.New(s.Gateway, storeOpts...)
	return s, nil
}

func (s *Session) openLocal(ctx context.Context, opts Options) error {
	who := opts.Identity
	if who.ID == "" || !who.Role.Valid() {
		return errors.New("local mode needs an actor id and role (--actor, --role or LEADFLOW_ACTOR, LEADFLOW_ROLE)")
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return err
	}
	s.conn = conn
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, s.Config, s.Logger)
	if err := e.EnsureRBAC(ctx); err != nil {
		return fmt.Errorf("seed rbac: %w", err)
	}
	if err := e.RegisterActor(ctx, who); err != nil {
		return err
	}
	perms, err := e.WhoAmI(ctx, who)
	if err != nil {
		return err
	}
	s.Engine = &e
	s.Identity = who
	s.Perms = perms
	s.Gateway = gateway.Local{Engine: e, Identity: who}
	return nil
}

func (s *Session) openRemote(ctx context.Context, opts Options) error {
	client := leadflowsdk.New(opts.ServerURL)
	client.APIKey = opts.APIKey
	client.BearerToken = opts.Token
	who := opts.Identity
	me, err := client.Me(ctx)
	switch {
	case err == nil:
		who = me.Identity()
	case errors.As(err, new(*leadflowsdk.TransportError)) && who.ID != "":
		s.Logger.Warn("server unreachable, continuing with local identity", "actor", who.ID, "err", err)
	default:
		return fmt.Errorf("resolve identity: %w", err)
	}
	resolver := auth.Resolver{
		Source:   leadflowsdk.PermissionSource{Client: client},
		Defaults: auth.StaticDefaults(s.Config.DefaultPermissions()),
		Logger:   s.Logger,
	}
	perms, err := resolver.Resolve(ctx, who)
	if err != nil {
		return err
	}
	s.Client = client
	s.Identity = who
	s.Perms = perms
	s.Gateway = client
	return nil
}

// Remote reports whether the session talks to a server.
func (s *Session) Remote() bool { return s.Client != nil }

// Watch merges live changes into the store until ctx ends, handing every
// applied change to observe. Remote sessions follow the server's websocket
// stream; local sessions poll the workspace event log.
func (s *Session) Watch(ctx context.Context, observe func(realtime.Change)) error {
	rt := s.Config.Realtime
	if s.Remote() {
		sub := realtime.NewSubscriber(s.Client.RealtimeEndpoint(), s.Store, realtime.SubscriberOptions{
			Header:       s.Client.AuthHeader(),
			ReconnectMin: rt.ReconnectMin,
			ReconnectMax: rt.ReconnectMax,
			Logger:       s.Logger.WithPrefix("realtime"),
			OnReady: func(cursor int64) {
				s.Logger.Debug("realtime ready", "cursor", cursor)
			},
		})
		if observe != nil {
			sub.Observe(observe)
		}
		return sub.Run(ctx)
	}

	hub := realtime.NewHub(s.Engine.Repo, realtime.HubOptions{
		PollInterval: rt.PollInterval,
		BatchSize:    rt.BatchSize,
		Buffer:       rt.Buffer,
		Logger:       s.Logger.WithPrefix("realtime"),
	})
	if err := hub.Prime(ctx); err != nil {
		return err
	}
	sub, last := hub.Attach()
	defer func() { hub.Unsubscribe(sub) }()
	go hub.Run(ctx)
	readAll := s.Perms.Has(domain.PermLeadReadAll)
	apply := func(c realtime.Change) error {
		c, visible := realtime.ForIdentity(c, s.Identity, readAll)
		if !visible {
			return nil
		}
		realtime.Apply(s.Store, c)
		if observe != nil {
			observe(c)
		}
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-sub.C:
			if ok {
				if c.Seq > last {
					apply(c)
					last = c.Seq
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Dropped for falling behind: attach again and catch up from the log.
			s.Logger.Warn("realtime subscription dropped, catching up", "cursor", last)
			hub.Unsubscribe(sub)
			sub, _ = hub.Attach()
			caught, err := hub.Replay(ctx, last, apply)
			if err != nil {
				return err
			}
			last = caught
		}
	}
}

// Close releases the workspace database. Flush the store first.
func (s *Session) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
