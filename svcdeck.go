// Package svcdeck embeds the service deck daemon: a supervisor over
// keyword-matched OS processes with a REST API, websocket push, history sinks
// and prometheus metrics.
package svcdeck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/svcdeck/internal/broadcast"
	"github.com/loykin/svcdeck/internal/config"
	"github.com/loykin/svcdeck/internal/history"
	"github.com/loykin/svcdeck/internal/history/factory"
	"github.com/loykin/svcdeck/internal/metrics"
	"github.com/loykin/svcdeck/internal/server"
	"github.com/loykin/svcdeck/internal/service"
	"github.com/loykin/svcdeck/internal/supervisor"
	svctls "github.com/loykin/svcdeck/internal/tls"
)

// Re-export core types for external consumers.

type Spec = service.Spec

type Status = supervisor.Status

type Settings = config.Settings

type Config = config.Daemon

type HistorySink = history.Sink

// LoadConfig reads an optional TOML file plus SVCDECK_* environment overrides.
func LoadConfig(path string) (Config, error) { return config.LoadDaemon(nil, path) }

const watchDebounce = 250 * time.Millisecond

// Deck wires the supervisor, broadcast hub, history sinks and HTTP transport
// over one data directory.
type Deck struct {
	cfg    Config
	store  *config.Store
	live   *config.Live
	sup    *supervisor.Supervisor
	hub    *broadcast.Hub
	router *server.Router
	fanout *history.Fanout
	nats   *broadcast.NATSSink

	mu     sync.Mutex
	srv    *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads the services and settings files from cfg.DataDir, creating them
// with defaults when absent, and assembles the daemon without starting it.
func New(cfg Config) (*Deck, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store := config.NewStore(cfg.DataDir)
	specs, err := store.LoadServices()
	if err != nil {
		return nil, err
	}
	settings, err := store.LoadSettings()
	if err != nil {
		return nil, err
	}
	live := config.NewLive(settings, store)

	fanout, err := factory.NewFanout(cfg.History.DSNs)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			_ = fanout.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	sup := supervisor.New(supervisor.Options{
		Registry:    service.NewRegistry(specs...),
		Settings:    live,
		Persist:     store.SaveServices,
		History:     fanout,
		StopTimeout: cfg.StopTimeout,
	})
	host := metrics.NewHostCollector()
	hub := broadcast.NewHub(broadcast.Options{
		Status:      func(ctx context.Context) any { return sup.StatusAll(ctx) },
		Stats:       func(ctx context.Context) any { return host.Collect(ctx) },
		Interval:    func() time.Duration { return live.Get().Interval() },
		SendTimeout: cfg.Broadcast.SendTimeout,
	})
	router := server.NewRouter(server.Options{
		Supervisor: sup,
		Settings:   live,
		Hub:        hub,
		Stats:      host,
		BasePath:   cfg.Server.BasePath,
		Metrics:    cfg.Metrics.Enabled,
	})
	sup.SetOnChange(router.OnChange)

	d := &Deck{cfg: cfg, store: store, live: live, sup: sup, hub: hub, router: router, fanout: fanout}
	if cfg.NATS.URL != "" {
		n, err := broadcast.NewNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			_ = fanout.Close()
			return nil, err
		}
		d.nats = n
	}
	slog.Info("svcdeck assembled",
		"data_dir", cfg.DataDir,
		"services", sup.Len(),
		"history_sinks", fanout.Len(),
		"nats", cfg.NATS.URL != "")
	return d, nil
}

func (d *Deck) Supervisor() *supervisor.Supervisor { return d.sup }
func (d *Deck) Hub() *broadcast.Hub                { return d.hub }
func (d *Deck) Settings() *config.Live             { return d.live }
func (d *Deck) Handler() http.Handler              { return d.router.Handler() }

// Start begins serving HTTP on cfg.Server.Listen and launches the background
// loops (NATS observer, file watcher). It returns the bound address.
func (d *Deck) Start() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.srv != nil {
		return "", errors.New("svcdeck already started")
	}
	tlsCfg, err := svctls.Setup(d.cfg.Server.TLS, d.cfg.DataDir)
	if err != nil {
		return "", fmt.Errorf("tls setup: %w", err)
	}
	srv, err := server.NewServer(d.cfg.Server.Listen, d.Handler(), tlsCfg)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.srv, d.cancel = srv, cancel

	if d.nats != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.hub.Serve(ctx, d.nats); err != nil {
				slog.Warn("nats observer stopped", "error", err)
			}
		}()
	}
	if d.cfg.WatchConfig {
		w, err := config.NewWatcher(d.store, watchDebounce)
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			w.OnServices = d.sup.ReplaceAll
			w.OnSettings = func(s config.Settings) {
				d.live.Set(s)
				d.hub.Publish(ctx, broadcast.SettingsUpdated(s))
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				w.Run(ctx)
			}()
		}
	}
	slog.Info("svcdeck listening", "addr", srv.Addr, "base_path", d.cfg.Server.BasePath)
	return srv.Addr, nil
}

// Shutdown stops the HTTP server and background loops, then flushes the
// history and NATS sinks.
func (d *Deck) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	srv, cancel := d.srv, d.cancel
	d.srv, d.cancel = nil, nil
	d.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	d.wg.Wait()
	if err := d.nats.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.sup.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush history: %w", err))
	}
	if err := d.fanout.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
