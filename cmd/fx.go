package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"

	"github.com/qorix-group/message-passing/config"
	"github.com/qorix-group/message-passing/internal/client"
	"github.com/qorix-group/message-passing/internal/diagnostics"
	"github.com/qorix-group/message-passing/internal/domain/model"
	"github.com/qorix-group/message-passing/internal/engine"
	"github.com/qorix-group/message-passing/internal/exampleservice"
	"github.com/qorix-group/message-passing/internal/httpdebug"
	"github.com/qorix-group/message-passing/internal/server"
	"github.com/qorix-group/message-passing/internal/transport/unixtransport"
)

// NewApp wires the example echo server, its diagnostics history, and its
// debug HTTP surface into an fx.App with lifecycle hooks controlling start
// and stop order.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideEngine,
			ProvideDisconnectHistory,
			ProvideServer,
			ProvideDebugHTTPServer,
		),
		fx.Invoke(func(*server.Server, *http.Server) {}),
	)
}

// ProvideLogger builds the process-wide structured logger at the level
// named by cfg.LogLevel.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ProvideEngine starts the reactor on top of the Unix transport and
// registers its shutdown with the fx lifecycle.
func ProvideEngine(lc fx.Lifecycle, logger *slog.Logger) *engine.Engine {
	eng := engine.New(unixtransport.New(), logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			eng.Stop()
			return nil
		},
	})
	return eng
}

// ProvideDisconnectHistory builds the bounded disconnect history backing
// /debug/disconnects.
func ProvideDisconnectHistory(cfg *config.Config) (*diagnostics.DisconnectHistory, error) {
	return diagnostics.NewDisconnectHistory(cfg.DisconnectHistorySize)
}

func exampleProtocol(cfg *config.Config) model.ServiceProtocolConfig {
	return model.ServiceProtocolConfig{
		Identifier:    cfg.ListenIdentifier,
		MaxSendSize:   1 << 16,
		MaxReplySize:  1 << 16,
		MaxNotifySize: 1 << 16,
	}
}

// ProvideServer builds the example echo server and starts/stops listening
// with the fx lifecycle.
func ProvideServer(lc fx.Lifecycle, eng *engine.Engine, cfg *config.Config, logger *slog.Logger, history *diagnostics.DisconnectHistory) (*server.Server, error) {
	srv, err := server.New(eng, exampleProtocol(cfg), model.ServerConfig{
		MaxQueuedSends:    cfg.MaxQueuedSends,
		MaxQueuedNotifies: cfg.MaxQueuedNotifies,
	}, server.Config{
		Connect: exampleservice.Connect(logger),
		History: history,
	}, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return srv.StartListening() },
		OnStop: func(context.Context) error {
			srv.StopListening()
			return nil
		},
	})
	return srv, nil
}

// ProvideDebugHTTPServer builds the read-only debug HTTP server. It is
// still constructed when DebugHTTPAddr is empty, but OnStart then never
// calls ListenAndServe, leaving the dependency satisfiable regardless.
func ProvideDebugHTTPServer(lc fx.Lifecycle, eng *engine.Engine, srv *server.Server, history *diagnostics.DisconnectHistory, cfg *config.Config, logger *slog.Logger) *http.Server {
	router := httpdebug.Router(eng, srv, history)
	httpSrv := &http.Server{Addr: cfg.DebugHTTPAddr, Handler: router}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if cfg.DebugHTTPAddr == "" {
				return nil
			}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("debug http server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cfg.DebugHTTPAddr == "" {
				return nil
			}
			return httpSrv.Shutdown(ctx)
		},
	})
	return httpSrv
}

// RunPing dials the example server once, sends message as a REQUEST, prints
// the echoed reply, and disconnects. It does not go through fx since it is
// a single round trip rather than a long-lived component graph.
func RunPing(cfg *config.Config, message string) error {
	logger := ProvideLogger(cfg)
	eng := engine.New(unixtransport.New(), logger)
	defer eng.Stop()

	cl, err := client.New(eng, exampleProtocol(cfg), model.ClientConfig{
		MaxAsyncReplies:  1,
		MaxQueuedSends:   cfg.MaxQueuedSends,
		SyncFirstConnect: true,
	})
	if err != nil {
		return err
	}

	ready := make(chan struct{})
	failed := make(chan model.StopReason, 1)
	cl.Start(func(s model.State) {
		switch s {
		case model.StateReady:
			close(ready)
		case model.StateStopped:
			select {
			case failed <- cl.GetStopReason():
			default:
			}
		}
	}, nil)
	defer cl.Stop()

	select {
	case <-ready:
	case reason := <-failed:
		return fmt.Errorf("could not connect to %s: stopped with reason %s", cfg.ListenIdentifier, reason)
	}

	reply, err := cl.SendWaitReply([]byte(message))
	if err != nil {
		return err
	}
	fmt.Println(string(reply))
	return nil
}
