// Package inventory seeds target workers with scan work: one paginated listing
// per target, then one enrichment task per listed resource.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regionscan/internal/remote"
	"regionscan/internal/storage"
	"regionscan/internal/task/paginate"
	"regionscan/internal/task/retry"
	"regionscan/internal/task/worker"
	logx "regionscan/pkg/logx"
)

// Listing pages run before any enrichment so a target's inventory is complete
// in the store as early as possible.
const (
	PriorityList    = 0
	PriorityMetrics = 1
)

type Config struct {
	Target   remote.Target
	PageSize int
	// Metrics are looked up for every resource. Empty means no enrichment tasks.
	Metrics []string
	Retry   retry.Policy
	// Replace drops the target's stored resources before a scan lists it again.
	Replace bool
}

// Deps are the collaborators a producer's tasks call. Metrics and Pricer are optional.
type Deps struct {
	Lister  remote.Lister
	Metrics remote.MetricSource
	Pricer  remote.Pricer
	Store   storage.Store
	Log     logx.Logger
	// Now is used for ScannedAt stamps. Defaults to time.Now.
	Now func() time.Time
}

// Producer implements worker.Filler for one target. It only enqueues work and
// writes to the store; the worker owns all progress counting.
type Producer struct {
	cfg  Config
	deps Deps
	log  logx.Logger
}

var _ worker.Filler = (*Producer)(nil)

func NewProducer(cfg Config, deps Deps) (*Producer, error) {
	if !cfg.Target.Valid() {
		return nil, fmt.Errorf("inventory: invalid target %q", cfg.Target.Key())
	}
	if deps.Lister == nil {
		return nil, errors.New("inventory: lister is required")
	}
	if deps.Store == nil {
		return nil, errors.New("inventory: store is required")
	}
	if len(cfg.Metrics) > 0 && deps.Metrics == nil {
		return nil, errors.New("inventory: metrics configured without a metric source")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Producer{
		cfg:  cfg,
		deps: deps,
		log:  log.With(logx.Comp("inventory"), logx.String("target", cfg.Target.Key())),
	}, nil
}

// Fill queues the listing task of a new scan run.
func (p *Producer) Fill(_ context.Context, w *worker.Worker) {
	runID := uuid.NewString()
	p.log.Debug("scan queued", logx.String("run", runID))
	w.Enqueue(PriorityList, worker.Task{
		Name: "list " + p.cfg.Target.Key(),
		Run:  p.listTask(w, runID),
	})
}

func (p *Producer) listTask(w *worker.Worker, runID string) worker.Action {
	return func(ctx context.Context, tok worker.Token) error {
		if w.Cancelled(tok) {
			return worker.ErrStale
		}
		log := p.log.With(logx.String("run", runID))
		started := p.deps.Now()

		if p.cfg.Replace {
			n, err := p.deps.Store.DeleteTarget(ctx, p.cfg.Target)
			if err != nil {
				return fmt.Errorf("clear previous scan: %w", err)
			}
			if n > 0 {
				log.Debug("previous scan cleared", logx.Int("resources", n))
			}
		}

		opt := paginate.Options{Name: "list " + p.cfg.Target.Key(), Priority: PriorityList}
		fut, err := paginate.Fold(ctx, w, tok, opt, p.pageRequest(""), 0, func(n int, rs []remote.Resource) (int, error) {
			for _, r := range rs {
				if err := p.record(ctx, w, tok, r); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		})

		go func() {
			<-fut.Done()
			n, _, err := fut.Result()
			switch {
			case err == nil:
				log.Info("listing done", logx.Int("resources", n), logx.Duration("took", p.deps.Now().Sub(started)))
			case errors.Is(err, worker.ErrStale), errors.Is(err, context.Canceled):
				log.Debug("listing abandoned", logx.Err(err))
			case errors.Is(err, paginate.ErrPaginationProtocol):
				log.Error("listing aborted: remote pagination is broken", logx.Err(err))
			default:
				log.Warn("listing failed", logx.Err(err))
			}
		}()
		return err
	}
}

// pageRequest fetches the page at cursor. A page reporting more results
// without a cursor yields a nil Next, which the folder rejects.
func (p *Producer) pageRequest(cursor string) paginate.Request[[]remote.Resource] {
	return func(ctx context.Context) (paginate.Page[[]remote.Resource], error) {
		var page remote.ListPage
		err := retry.Do(ctx, p.cfg.Retry, func(ctx context.Context, attempt int) error {
			var err error
			page, err = p.deps.Lister.ListResources(ctx, remote.ListRequest{
				Target:   p.cfg.Target,
				Cursor:   cursor,
				PageSize: p.cfg.PageSize,
			})
			if err != nil && attempt > 1 {
				p.log.Debug("list retry failed", logx.Int("attempt", attempt), logx.Err(err))
			}
			return err
		})
		if err != nil {
			return paginate.Page[[]remote.Resource]{}, err
		}
		out := paginate.Page[[]remote.Resource]{Data: page.Resources, HasNext: page.HasMore}
		if page.HasMore && page.NextCursor != "" {
			out.Next = p.pageRequest(page.NextCursor)
		}
		return out, nil
	}
}

// record stores a listed resource and queues its enrichment.
func (p *Producer) record(ctx context.Context, w *worker.Worker, tok worker.Token, r remote.Resource) error {
	r.Target = p.cfg.Target
	r.ScannedAt = p.deps.Now()
	if err := p.deps.Store.PutResource(ctx, r); err != nil {
		return fmt.Errorf("store %s: %w", r.ID, err)
	}
	if len(p.cfg.Metrics) == 0 && p.deps.Pricer == nil {
		return nil
	}
	if !w.EnqueueIfCurrent(tok, PriorityMetrics, worker.Task{Name: "enrich " + r.ID, Run: p.enrichTask(w, r)}) {
		return worker.ErrStale
	}
	return nil
}

func (p *Producer) enrichTask(w *worker.Worker, r remote.Resource) worker.Action {
	return func(ctx context.Context, tok worker.Token) error {
		if w.Cancelled(tok) {
			return worker.ErrStale
		}
		metrics := make(map[string]float64, len(p.cfg.Metrics))
		for _, name := range p.cfg.Metrics {
			var v float64
			err := retry.Do(ctx, p.cfg.Retry, func(ctx context.Context, _ int) error {
				var err error
				v, err = p.deps.Metrics.Metric(ctx, p.cfg.Target, r.ID, name)
				if errors.Is(err, remote.ErrNotFound) {
					return retry.NoRetry(err)
				}
				return err
			})
			if err != nil {
				return fmt.Errorf("metric %s of %s: %w", name, r.ID, err)
			}
			metrics[name] = v
		}
		if len(metrics) > 0 {
			r.Metrics = metrics
		}

		if p.deps.Pricer != nil {
			cost, err := p.deps.Pricer.MonthlyCost(r)
			if err != nil {
				return fmt.Errorf("price %s: %w", r.ID, err)
			}
			r.MonthlyCost = cost
		}

		// Results of a superseded scan must not overwrite the store.
		if w.Cancelled(tok) {
			return worker.ErrStale
		}
		r.ScannedAt = p.deps.Now()
		return p.deps.Store.PutResource(ctx, r)
	}
}
