// Package server wires the websocket host, the session manager and the relay log behind one
// HTTP listener and drives their lifecycle.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/voicerelay/pkg/config"
	"github.com/go-go-golems/voicerelay/pkg/eventbus"
	"github.com/go-go-golems/voicerelay/pkg/host/wshost"
	"github.com/go-go-golems/voicerelay/pkg/persistence/relaylog"
	"github.com/go-go-golems/voicerelay/pkg/relay"
	"github.com/go-go-golems/voicerelay/pkg/session"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	bus      *eventbus.Bus
	host     *wshost.Host
	sessions *session.Manager
	store    relaylog.Store
	apiKey   string
	httpSrv  *http.Server
}

// Components are the pre-built parts a Server runs.
type Components struct {
	Addr     string
	Bus      *eventbus.Bus
	Host     *wshost.Host
	Sessions *session.Manager
	// Store is optional.
	Store relaylog.Store
	// APIKey guards the /api/ routes the same way it guards the websocket endpoint.
	APIKey string
}

func New(c Components) (*Server, error) {
	if c.Bus == nil || c.Host == nil || c.Sessions == nil {
		return nil, errors.New("server: bus, host and sessions are required")
	}
	s := &Server{
		bus:      c.Bus,
		host:     c.Host,
		sessions: c.Sessions,
		store:    c.Store,
		apiKey:   c.APIKey,
	}
	s.httpSrv = &http.Server{
		Addr:              c.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// NewFromSettings builds every component from resolved settings.
func NewFromSettings(ctx context.Context, cfg config.Settings, redisSettings eventbus.Settings) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	relayOpts := []relay.Option{relay.WithTimeout(cfg.RelayTimeout())}
	if cfg.SOCKSProxy != "" {
		relayOpts = append(relayOpts, relay.WithSOCKSProxy(cfg.SOCKSProxy))
	}
	client, err := relay.NewClient(cfg.ChatBaseURL, relayOpts...)
	if err != nil {
		return nil, err
	}

	store, err := openRelayLog(cfg, redisSettings)
	if err != nil {
		return nil, err
	}

	bus, err := eventbus.New(redisSettings)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		_ = bus.Close()
		closeStore(store)
		return nil, err
	}
	opts.Relay = client
	if store != nil {
		opts.Recorder = store
	}
	sessions, err := session.NewManager(ctx, opts)
	if err != nil {
		_ = bus.Close()
		closeStore(store)
		return nil, err
	}

	h, err := wshost.New(wshost.Config{
		BaseCtx:     ctx,
		Bus:         bus,
		Handler:     sessions,
		APIKey:      cfg.APIKey,
		PackageName: cfg.PackageName,
		Upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	})
	if err != nil {
		_ = bus.Close()
		closeStore(store)
		return nil, err
	}

	log.Info().
		Str("component", "server").
		Str("chat_endpoint", client.Endpoint()).
		Str("package", cfg.PackageName).
		Str("policy", string(opts.Policy)).
		Str("relay_log", cfg.RelayLog).
		Bool("redis", redisSettings.Enabled).
		Msg("voice relay configured")

	return New(Components{
		Addr:     net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Bus:      bus,
		Host:     h,
		Sessions: sessions,
		Store:    store,
		APIKey:   cfg.APIKey,
	})
}

// openRelayLog returns nil when recording is disabled.
func openRelayLog(cfg config.Settings, redisSettings eventbus.Settings) (relaylog.Store, error) {
	switch cfg.RelayLog {
	case config.RelayLogNone:
		return nil, nil
	case config.RelayLogMemory, "":
		return relaylog.NewInMemoryStore(0), nil
	case config.RelayLogSQLite:
		dsn, err := relaylog.SQLiteDSNForFile(cfg.RelayLogDSN)
		if err != nil {
			return nil, err
		}
		st, err := relaylog.NewSQLiteStore(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite relay log")
		}
		return st, nil
	case config.RelayLogRedis:
		client := redis.NewClient(&redis.Options{Addr: redisSettings.Addr})
		st, err := relaylog.NewRedisStore(client, 0, 0)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.Errorf("unknown relay log %q", cfg.RelayLog)
	}
}

func closeStore(st relaylog.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Str("component", "server").Msg("relay log close error")
	}
}

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

func (s *Server) Sessions() *session.Manager { return s.sessions }

// Run serves until ctx is canceled or the process receives SIGINT/SIGTERM, then shuts down
// connections, sessions, the bus and the relay log in that order.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		return s.shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting voice relay server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) shutdown(base context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(base, shutdownTimeout)
	defer cancel()
	var firstErr error
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		firstErr = err
	}
	// hijacked websocket connections are not tracked by http.Server
	s.host.Close()
	s.sessions.CloseAll()
	if err := s.bus.Close(); err != nil {
		log.Error().Err(err).Msg("event bus close error")
	} else {
		log.Info().Msg("event bus closed")
	}
	closeStore(s.store)
	log.Info().Msg("server shutdown complete")
	return firstErr
}
