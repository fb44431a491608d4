package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"agentsched/internal/config"
	"agentsched/internal/dispatch"
	"agentsched/internal/httpapi"
	"agentsched/internal/platform"
	"agentsched/internal/store"
	"agentsched/internal/sweep"
	logx "agentsched/pkg/logx"
)

const (
	// EnvDevMode stores records as plaintext JSON when truthy. Development only.
	EnvDevMode = "AGENTSCHED_DEV_MODE"
	// EnvSealKey overrides storage.seal_key from the config file.
	EnvSealKey = "AGENTSCHED_SEAL_KEY"
)

// App owns the wired service graph and its lifecycle.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   *store.Store
	client  *platform.HTTPClient
	sweeper *sweep.Service
	api     *httpapi.Server

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
	subCh       chan *config.Config
	apiErr      <-chan error
}

// New loads the config and builds the full service graph. Nothing is running
// yet; call Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))

	codec, err := buildCodec(cfg.Storage, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	root := cfg.Storage.Root
	if root == "" {
		root = "./data"
	}
	st, err := store.New(root, codec, log.With(logx.String("component", "store")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	timeout, err := config.ParseDurationField("platform.timeout", cfg.Platform.Timeout)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	client, err := platform.NewHTTPClient(platform.Config{
		BaseURL:        cfg.Platform.BaseURL,
		Timeout:        timeout,
		SendRatePerSec: cfg.Platform.SendRatePerSec,
	}, log.With(logx.String("component", "platform")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	recorder := dispatch.NewRecorder(st, log.With(logx.String("component", "recorder")))
	disp := dispatch.New(st, client, recorder, log.With(logx.String("component", "dispatch")))

	sweepCfg, err := sweepConfig(cfg.Sweep)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	sweeper := sweep.New(sweepCfg, st, disp, log.With(logx.String("component", "sweep")))

	a := &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		store:   st,
		client:  client,
		sweeper: sweeper,
	}

	if cfg.API != nil && cfg.API.Enabled {
		apiCfg, err := apiConfig(cfg.API)
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		a.api = httpapi.NewServer(apiCfg, st, client, log.With(logx.String("component", "api")))
	}

	return a, nil
}

// buildCodec selects the record codec from environment and config. Missing
// key without dev mode falls back to a random per-process key: the service
// still runs, but existing records are unreadable and new ones will not
// survive a restart. Loud warning, mirrors the storage contract.
func buildCodec(cfg config.StorageConfig, log logx.Logger) (*store.Codec, error) {
	if dev, _ := strconv.ParseBool(os.Getenv(EnvDevMode)); dev {
		log.Warn("dev mode enabled: records stored as plaintext JSON")
		return store.NewPlaintextCodec(), nil
	}
	secret := os.Getenv(EnvSealKey)
	if secret == "" {
		secret = cfg.SealKey
	}
	if secret == "" {
		var b [32]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("generate fallback seal key: %w", err)
		}
		secret = hex.EncodeToString(b[:])
		log.Warn("no seal key configured; using a random per-process key " +
			"(existing records are unreadable, new records will not survive restart)")
	}
	return store.NewCodec(secret)
}

func sweepConfig(cfg config.SweepConfig) (sweep.Config, error) {
	interval, err := config.ParseDurationOrDefault("sweep.interval", cfg.Interval, 60*time.Second)
	if err != nil {
		return sweep.Config{}, err
	}
	return sweep.Config{
		Enabled:   cfg.Enabled,
		Interval:  interval,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	}, nil
}

func apiConfig(cfg *config.APIConfig) (httpapi.Config, error) {
	read, err := config.ParseDurationField("api.read_timeout", cfg.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("api.write_timeout", cfg.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("api.idle_timeout", cfg.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

// Start launches the sweep, the API (if enabled), the config file watcher,
// and the reload subscriber.
func (a *App) Start(ctx context.Context) {
	a.sweeper.Start(ctx)
	if a.api != nil {
		a.apiErr = a.api.Start()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.subCh = a.cfgMgr.Subscribe(1)

	a.watchWG.Add(2)
	go func() {
		defer a.watchWG.Done()
		if err := a.cfgMgr.Watch(watchCtx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()
	go func() {
		defer a.watchWG.Done()
		for {
			select {
			case <-watchCtx.Done():
				return
			case cfg, ok := <-a.subCh:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("agentsched started")
}

// applyConfig handles a hot reload. Only logging and the sweep cadence flags
// are live; storage, platform and API settings need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	sweepCfg, err := sweepConfig(cfg.Sweep)
	if err != nil {
		a.log.Warn("reloaded sweep config rejected", logx.Err(err))
		return
	}
	a.sweeper.Apply(sweepCfg)
	a.log.Info("config reloaded", logx.Bool("sweep_enabled", sweepCfg.Enabled))
}

// APIErrors yields a fatal API serve error, if the API is enabled.
func (a *App) APIErrors() <-chan error { return a.apiErr }

// Stop shuts everything down in reverse order of Start.
func (a *App) Stop(ctx context.Context) {
	if a.api != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.api.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("api shutdown failed", logx.Err(err))
		}
		cancel()
	}
	a.sweeper.Stop(ctx)
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchWG.Wait()
		a.cfgMgr.Unsubscribe(a.subCh)
	}
	a.log.Info("agentsched stopped")
	a.logSvc.Close()
}
