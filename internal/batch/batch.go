package batch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultLimit = 5

// Progress is reported once per finished item. Completed only grows.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Current   string `json:"current,omitempty"`
}

// Outcome is the result of one item. Value is the zero value when Err is set.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

type Options[T any] struct {
	// Limit is the group size; items of one group run concurrently and
	// groups run one after another.
	Limit      int
	Label      func(T) string
	OnProgress func(Progress)
	Logger     *slog.Logger
	Name       string
}

// Run applies fn to every item in fixed-size groups. A failing item never
// aborts the batch. Once ctx is done no new group is started and the
// outcomes gathered so far are returned together with ctx.Err().
func Run[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts Options[T]) ([]Outcome[R], error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	total := len(items)
	outcomes := make([]Outcome[R], 0, total)
	var progressMu sync.Mutex
	completed := 0

	for start := 0; start < total; start += limit {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		end := start + limit
		if end > total {
			end = total
		}
		group := make([]Outcome[R], end-start)
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				item := items[i]
				value, err := fn(ctx, item)
				out := Outcome[R]{Index: i, Value: value, Err: err}
				label := ""
				if opts.Label != nil {
					label = opts.Label(item)
				}
				if err != nil {
					var zero R
					out.Value = zero
					logger.Warn("batch item failed", "batch", opts.Name, "item", label, "index", i, "error", err)
				}
				group[i-start] = out

				progressMu.Lock()
				completed++
				if opts.OnProgress != nil {
					opts.OnProgress(Progress{Completed: completed, Total: total, Current: label})
				}
				progressMu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		outcomes = append(outcomes, group...)
	}
	return outcomes, nil
}

// Values returns the values of all outcomes in input order, including the
// zero values of failed items.
func Values[R any](outcomes []Outcome[R]) []R {
	values := make([]R, len(outcomes))
	for i, out := range outcomes {
		values[i] = out.Value
	}
	return values
}

// Failed returns the outcomes whose item failed.
func Failed[R any](outcomes []Outcome[R]) []Outcome[R] {
	var failed []Outcome[R]
	for _, out := range outcomes {
		if out.Err != nil {
			failed = append(failed, out)
		}
	}
	return failed
}
