package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"regionscan/internal/config"
	"regionscan/internal/eventbus"
	"regionscan/internal/task/progress"
	"regionscan/internal/task/worker"
	logx "regionscan/pkg/logx"
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
func (a *App) sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// applyLoop applies reloaded settings that are safe to change at runtime.
// Targets, storage and the remote client are fixed until restart.
func (a *App) applyLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.apply(prev, cfg)
			prev = cfg
		}
	}
}

func (a *App) apply(prev, cfg *config.Config) {
	changes, fields := config.SummarizeChange(prev, cfg)
	if len(changes) == 0 {
		return
	}
	a.logs.Apply(mapLogConfig(cfg))
	a.log.Info("config reloaded", fields...)

	for _, c := range changes {
		switch c {
		case "storage", "remote", "scan", "progress", "debug":
			a.log.Warn("change applies on restart", logx.String("section", c))
		}
	}
}

// eventLoop logs lifecycle events from every worker.
func (a *App) eventLoop(ctx context.Context) {
	ch, unsubscribe := a.bus.Subscribe(64,
		eventbus.WorkerStarted,
		eventbus.WorkerStopped,
		eventbus.WorkerReset,
		eventbus.WorkerDrained,
		eventbus.TaskFailed,
	)
	defer unsubscribe()

	log := a.log.With(logx.Comp("events"))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !log.Enabled(logx.LevelDebug) {
				continue
			}
			switch data := ev.Data.(type) {
			case worker.TaskEvent:
				log.Debug(string(ev.Topic), logx.String("worker", ev.Source), logx.String("task", data.Name), logx.String("error", data.Error))
			case progress.Counters:
				log.Debug(string(ev.Topic), logx.String("worker", ev.Source), logx.String("progress", data.String()))
			default:
				log.Debug(string(ev.Topic), logx.String("worker", ev.Source))
			}
		}
	}
}

// reportLoop logs aggregate progress and mirrors it into the systemd status line.
func (a *App) reportLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	var last progress.Aggregate
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			agg := a.fleet.Progress()
			a.notify("STATUS=" + agg.String())
			if agg == last {
				continue
			}
			last = agg
			a.log.Info("progress",
				logx.String("done", agg.String()),
				logx.String("percent", agg.Percent()),
				logx.Int("running", agg.Running),
				logx.Uint64("failed", agg.Failed),
			)
		}
	}
}
