package activity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Runner executes tasks with bounded concurrency and a fixed pause between
// the completion of one task and the start of the next.
type Runner struct {
	limit int
	pause time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewRunner creates a runner. limit below one is treated as one.
func NewRunner(limit int, pause time.Duration) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{limit: limit, pause: pause}
}

// Run executes every task and returns their results in task order.
// A task error is recorded in its slot and does not stop the others.
// Tasks not yet started when ctx ends report ctx.Err().
func Run[T any](ctx context.Context, r *Runner, tasks []func(context.Context) (T, error)) ([]T, []error) {
	results := make([]T, len(tasks))
	errs := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(r.limit)

	for i, task := range tasks {
		g.Go(func() error {
			if err := r.wait(ctx); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = task(ctx)
			r.done()
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

// wait blocks until pause has elapsed since the last completed task.
func (r *Runner) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()

	if last.IsZero() || r.pause <= 0 {
		return nil
	}
	d := r.pause - time.Since(last)
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) done() {
	r.mu.Lock()
	r.last = time.Now()
	r.mu.Unlock()
}

// fetchInstitutionalActivity reads ownership through the single-kind path,
// then fetches the ticker's activity for each of the first institutions in
// ownership order, one at a time. Failed institutions are skipped.
func (s *Service) fetchInstitutionalActivity(ctx context.Context, ticker string, limit int) ([]domain.Record, error) {
	owners, err := s.GetTickerActivityByType(ctx, ticker, domain.KindOwnership, Options{})
	if err != nil {
		return nil, err
	}

	institutions := make([]string, 0, s.cfg.MaxInstitutions)
	seen := make(map[string]struct{})
	for _, rec := range owners.Data {
		pos, ok := rec.(*domain.OwnershipPosition)
		if !ok || pos.Institution == "" {
			continue
		}
		if _, dup := seen[pos.Institution]; dup {
			continue
		}
		seen[pos.Institution] = struct{}{}
		institutions = append(institutions, pos.Institution)
		if len(institutions) == s.cfg.MaxInstitutions {
			break
		}
	}
	if len(institutions) == 0 {
		return []domain.Record{}, nil
	}

	tasks := make([]func(context.Context) ([]*domain.InstitutionalTrade, error), len(institutions))
	for i, name := range institutions {
		tasks[i] = func(ctx context.Context) ([]*domain.InstitutionalTrade, error) {
			return s.source.InstitutionActivity(ctx, name, ticker)
		}
	}

	results, errs := Run(ctx, NewRunner(1, s.cfg.InstitutionPause), tasks)

	out := make([]domain.Record, 0)
	for i, rows := range results {
		if errs[i] != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("institution activity failed, skipping",
				"ticker", ticker,
				"institution", institutions[i],
				"error", errs[i],
			)
			continue
		}
		for _, row := range rows {
			out = append(out, row)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}
