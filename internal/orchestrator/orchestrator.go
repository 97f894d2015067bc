// Package orchestrator runs one task per locale on a bounded worker pool and
// collects results and failures per locale.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/storetran/internal/locale"
)

type Config struct {
	// Concurrency caps the pool; zero means runtime.NumCPU().
	Concurrency int
	// Pacing is slept inside each task after its work, before the slot frees.
	Pacing time.Duration
	// Action labels progress lines, e.g. "Translated".
	Action string
	// Progress, when set, receives a single status line.
	Progress io.Writer
	// OnProgress is called from the reporting goroutine after each locale.
	OnProgress func(Event)
	Logger     zerolog.Logger
}

// Event reports one finished locale.
type Event struct {
	Locale locale.Locale
	Done   int
	Total  int
	Err    error
}

// Result maps locale codes to task values and error messages. A code
// appears in exactly one of the two maps.
type Result[T any] struct {
	Results map[string]T
	Errors  map[string]string
}

func (r *Result[T]) Succeeded() int { return len(r.Results) }
func (r *Result[T]) Failed() int { return len(r.Errors) }

// Task is the per-locale unit of work.
type Task[T any] func(ctx context.Context, l locale.Locale) (T, error)

type Orchestrator struct {
	config Config
}

func New(config Config) *Orchestrator {
	if config.Action == "" {
		config.Action = "Processed"
	}
	return &Orchestrator{config: config}
}

func (o *Orchestrator) poolSize(n int) int {
	size := o.config.Concurrency
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return max(1, min(size, n))
}

type outcome[T any] struct {
	locale locale.Locale
	value  T
	err    error
}

// Dispatch runs task once per distinct locale code and waits for all of
// them. Errors and panics are captured per locale; one failure never stops
// its siblings, and no task is cancelled once started.
func Dispatch[T any](ctx context.Context, o *Orchestrator, locales []locale.Locale, task Task[T]) *Result[T] {
	unique := dedup(locales)
	res := &Result[T]{
		Results: make(map[string]T, len(unique)),
		Errors:  make(map[string]string),
	}
	if len(unique) == 0 {
		return res
	}

	outcomes := make(chan outcome[T], len(unique))
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		collect(o, outcomes, res, len(unique))
	}()

	var g errgroup.Group
	g.SetLimit(o.poolSize(len(unique)))
	for _, l := range unique {
		g.Go(func() error {
			v, err := runSafely(ctx, task, l)
			if o.config.Pacing > 0 {
				time.Sleep(o.config.Pacing)
			}
			outcomes <- outcome[T]{locale: l, value: v, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)
	<-reported

	return res
}

func runSafely[T any](ctx context.Context, task Task[T], l locale.Locale) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx, l)
}

// collect is the only writer of res and of the progress line.
func collect[T any](o *Orchestrator, outcomes <-chan outcome[T], res *Result[T], total int) {
	var bar *progressbar.ProgressBar
	if o.config.Progress != nil {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(o.config.Progress),
			progressbar.OptionSetDescription(o.config.Action+"..."),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(20),
			progressbar.OptionClearOnFinish(),
		)
	}

	done := 0
	for out := range outcomes {
		done++
		if out.err != nil {
			res.Errors[out.locale.Code] = out.err.Error()
			o.config.Logger.Debug().Err(out.err).Str("locale", out.locale.Code).Msg("locale failed")
		} else {
			res.Results[out.locale.Code] = out.value
			o.config.Logger.Debug().Str("locale", out.locale.Code).Msg("locale done")
		}

		if bar != nil {
			status := o.config.Action
			if out.err != nil {
				status = "Failed"
			}
			bar.Describe(fmt.Sprintf("%s %s", status, out.locale.Name))
			_ = bar.Add(1)
		}
		if o.config.OnProgress != nil {
			o.config.OnProgress(Event{Locale: out.locale, Done: done, Total: total, Err: out.err})
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}
}

func dedup(locales []locale.Locale) []locale.Locale {
	seen := make(map[string]struct{}, len(locales))
	out := make([]locale.Locale, 0, len(locales))
	for _, l := range locales {
		if _, ok := seen[l.Code]; ok {
			continue
		}
		seen[l.Code] = struct{}{}
		out = append(out, l)
	}
	return out
}
