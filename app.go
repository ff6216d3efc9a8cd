// Package shade wires the pieces of the editor client together: dial the
// socket, expose the typed API, and optionally fan events out to bridge
// clients and the trace store.
package shade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/megalithic/shade-sub001/internal/config"
	"github.com/megalithic/shade-sub001/internal/logtee"
	"github.com/megalithic/shade-sub001/internal/nvim"
	"github.com/megalithic/shade-sub001/internal/rpc"
	"github.com/megalithic/shade-sub001/internal/tracelog"
	"github.com/megalithic/shade-sub001/internal/workerutil"
	"github.com/megalithic/shade-sub001/internal/wsbridge"
)

// App owns the connection and the optional bridge and trace services for one
// editor session.
type App struct {
	cfg config.Config

	conn   *rpc.Conn
	client *nvim.Client

	// hub and trace are nil when disabled by config.
	hub   *wsbridge.Hub
	trace *tracelog.Store

	sub    *rpc.Subscription
	wg     sync.WaitGroup
	cancel context.CancelFunc

	// prevLogger restores the process default logger on Shutdown when the
	// bridge installed a tee.
	prevLogger *slog.Logger

	shutdownOnce sync.Once
}

// New builds an App from cfg. Nothing connects until Start.
func New(cfg config.Config) *App {
	return &App{cfg: cfg}
}

// Start connects to the editor and brings up the configured services. On
// error everything already started is torn down.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Socket == "" {
		return fmt.Errorf("shade: no socket configured (set socket in config, --socket, or %s)", config.EnvSocket)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.cfg.WaitForSocket {
		slog.Info("[app] waiting for socket", "path", a.cfg.Socket)
		if err := rpc.WaitForSocket(ctx, a.cfg.Socket); err != nil {
			cancel()
			return fmt.Errorf("shade: wait for socket: %w", err)
		}
	}

	// The trace is best-effort; a broken trace file must not stop the
	// client from working.
	var tracer rpc.Tracer
	if a.cfg.TraceDB != "" {
		store, err := tracelog.Open(a.cfg.TraceDB)
		if err != nil {
			slog.Warn("[app] trace disabled", "path", a.cfg.TraceDB, "error", err)
		} else {
			a.trace = store
			tracer = store
		}
	}

	conn, err := rpc.Dial(ctx, a.cfg.Socket, rpc.Options{
		DialTimeout:    a.cfg.DialTimeout(),
		RequestTimeout: a.cfg.RequestTimeout(),
		Tracer:         tracer,
	})
	if err != nil {
		a.closeServices()
		cancel()
		return err
	}
	a.conn = conn
	a.client = nvim.New(conn)

	if a.cfg.BridgeAddr != "" {
		if err := a.startBridge(runCtx); err != nil {
			_ = conn.Close()
			a.closeServices()
			cancel()
			return err
		}
	}

	slog.Info("[app] connected", "socket", a.cfg.Socket)
	return nil
}

// startBridge brings up the WebSocket hub, subscribes it to the event
// stream, and tees warn-and-above log records to bridge clients.
func (a *App) startBridge(ctx context.Context) error {
	hub := wsbridge.NewHub(wsbridge.HubOptions{Addr: a.cfg.BridgeAddr})
	hub.SetStatusFunc(a.status)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	a.hub = hub

	a.prevLogger = slog.Default()
	tee := logtee.New(a.prevLogger.Handler(), slog.LevelWarn, func(e logtee.Entry) {
		hub.PublishLog(e)
	})
	slog.SetDefault(slog.New(tee))

	a.sub = a.conn.Events()
	workerutil.Go(ctx, "bridge-pump", &a.wg, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-a.sub.C():
				if !ok {
					return
				}
				hub.PublishEvent(ev)
			}
		}
	}, workerutil.Options{})
	return nil
}

// status supplies the bridge /status payload.
func (a *App) status() map[string]any {
	st := map[string]any{
		"socket": a.cfg.Socket,
		"state":  a.conn.State().String(),
	}
	stats := a.conn.Stats()
	st["requests_sent"] = stats.RequestsSent
	st["events_received"] = stats.EventsReceived
	if a.trace != nil {
		st["trace_session"] = a.trace.Session()
	}
	return st
}

// Client returns the typed API. Nil before Start.
func (a *App) Client() *nvim.Client {
	return a.client
}

// Conn returns the underlying connection. Nil before Start.
func (a *App) Conn() *rpc.Conn {
	return a.conn
}

// BridgeURL returns the WebSocket endpoint, or "" when the bridge is
// disabled.
func (a *App) BridgeURL() string {
	if a.hub == nil {
		return ""
	}
	return a.hub.URL()
}

// Shutdown tears everything down in dependency order and blocks until the
// background workers exit. Safe to call repeatedly.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.sub != nil {
			a.sub.Close()
		}
		if a.conn != nil {
			_ = a.conn.Close()
		}
		a.wg.Wait()
		a.closeServices()
		slog.Info("[app] shut down")
	})
}

func (a *App) closeServices() {
	if a.prevLogger != nil {
		slog.SetDefault(a.prevLogger)
		a.prevLogger = nil
	}
	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			slog.Warn("[app] bridge stop", "error", err)
		}
		a.hub = nil
	}
	if a.trace != nil {
		if err := a.trace.Close(); err != nil {
			slog.Warn("[app] trace close", "error", err)
		}
		a.trace = nil
	}
}
