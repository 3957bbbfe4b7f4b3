// Package app wires configuration, logging, storage, the remote client and
// one paced worker per target into the regionscan daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"regionscan/internal/config"
	"regionscan/internal/eventbus"
	"regionscan/internal/fleet"
	"regionscan/internal/observability/debug"
	"regionscan/internal/refresh"
	"regionscan/internal/remote"
	"regionscan/internal/runtime/supervisor"
	"regionscan/internal/storage"
	logx "regionscan/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	api   *remote.Simulated

	fleet   *fleet.Fleet
	refresh *refresh.Service

	// notify reports service state to the init system (sd_notify).
	notify func(state string)
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateRuntime)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)
	appLog := log.With(logx.Comp("app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.Comp("storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	api, err := newRemote(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		api:     api,
		fleet:   fleet.New(log),
		refresh: refresh.New(refresh.Config{Timezone: cfg.Scan.Timezone}, log),
	}
	a.notify = a.sdNotify

	if err := a.buildFleet(cfg, log); err != nil {
		a.fleet.Close()
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	appLog.Info("configured",
		logx.String("config", cfgPath),
		logx.String("storage", sc.Driver),
		logx.Int("targets", a.fleet.Len()),
	)
	return a, nil
}

func (a *App) Fleet() *fleet.Fleet { return a.fleet }

func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Start starts every worker, the rescan schedule and the background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.Comp("supervisor"))))
	cfg := a.cfgm.Get()

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{MinBackoff: time.Second})
	a.sup.Go0("config.apply", a.applyLoop)
	a.sup.Go0("events", a.eventLoop)

	interval, err := progressInterval(cfg)
	if err != nil {
		return err
	}
	if interval > 0 {
		a.sup.Go0("progress", func(ctx context.Context) { a.reportLoop(ctx, interval) })
	}

	if cfg.Debug.Enabled {
		srv := debug.New(debug.Config{
			Addr:          cfg.Debug.Addr,
			Token:         cfg.Debug.Token,
			AllowInsecure: cfg.Debug.AllowInsecure,
		}, a.fleet, a.rescan, a.log)
		a.sup.GoRestart("debug.http", srv.Run, supervisor.RestartPolicy{MinBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second, MaxRestarts: 5})
	}

	if err := a.fleet.StartAll(); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	if spec := strings.TrimSpace(cfg.Scan.Refresh); spec != "" {
		if err := a.refresh.Start(a.sup.Context(), spec, a.rescan); err != nil {
			return fmt.Errorf("scan.refresh: %w", err)
		}
	}

	a.notify("READY=1")
	a.log.Info("started", logx.Int("workers", a.fleet.Len()))
	return nil
}

// rescan is the refresh job.
func (a *App) rescan(context.Context) error {
	res, err := a.fleet.Rescan()
	a.log.Info("rescan", logx.String("result", res.String()))
	return err
}

// Stop shuts everything down. Each step is bounded so one stuck component
// cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		a.fleet.Close()
		err := a.store.Close()
		_ = a.logs.Close()
		return err
	}
	a.notify("STOPPING=1")
	a.log.Info("stopping", logx.String("progress", a.fleet.Progress().String()))
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.runStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("refresh", 2*time.Second, func(c context.Context) error { a.refresh.Stop(c); return nil })
	step("workers", time.Second, func(context.Context) error { a.fleet.StopAll(); a.fleet.Close(); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
		return stepCtx.Err()
	}
}
