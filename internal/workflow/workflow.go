// Package workflow localizes one App Store Connect parent into many locales:
// translate each source field, fit it to its limit, then publish.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/valpere/storetran/internal"
	"github.com/valpere/storetran/internal/asc"
	"github.com/valpere/storetran/internal/fields"
	"github.com/valpere/storetran/internal/locale"
	"github.com/valpere/storetran/internal/orchestrator"
	"github.com/valpere/storetran/internal/store"
	"github.com/valpere/storetran/internal/translator"
)

// Publisher persists one locale's values. *asc.Client satisfies it.
type Publisher interface {
	SaveLocalization(ctx context.Context, k asc.Kind, parentID, code string, values map[string]string) (asc.LocalizationRecord, error)
}

// Memory caches provider output. *store.Store satisfies it. Lookup may
// report a hit together with an error; the hit is used.
type Memory interface {
	Lookup(ctx context.Context, provider, model string, req internal.TranslationRequest) (string, bool, error)
	Remember(ctx context.Context, provider, model string, req internal.TranslationRequest, translation string) error
}

// History records finished runs. *store.Store satisfies it.
type History interface {
	SaveRun(ctx context.Context, run store.Run, results []internal.TranslationResult) (string, error)
}

// LanguageChecker reports whether text is in the language of a locale.
type LanguageChecker interface {
	IsValid(text, target string) (bool, error)
}

// Job is one localization run.
type Job struct {
	Kind     asc.Kind
	ParentID string
	// Source maps logical field names to the base-locale text.
	Source     map[string]string
	Targets    []locale.Locale
	Seed       *int64
	Refinement string
	// DryRun translates without publishing.
	DryRun bool

	// Fields restricts the run to these logical fields. Empty with no
	// Overrides means every field of the kind.
	Fields []string
	// Overrides replaces the source text of a field and implies it in Fields.
	// Overridden values are also published to Base, fitted to their limits.
	Overrides map[string]string
	Base      string
}

// Report holds the values published per locale and the failures per locale.
type Report struct {
	RunID   string
	Results map[string]map[string]string
	Errors  map[string]string
}

type Localizer struct {
	provider  translator.Provider
	publisher Publisher
	orch      *orchestrator.Orchestrator
	memory    Memory
	history   History
	checker   LanguageChecker
	limits    fields.Limits
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*Localizer)

func WithMemory(m Memory) Option             { return func(l *Localizer) { l.memory = m } }
func WithHistory(h History) Option           { return func(l *Localizer) { l.history = h } }
func WithChecker(c LanguageChecker) Option   { return func(l *Localizer) { l.checker = c } }
func WithLimits(limits fields.Limits) Option { return func(l *Localizer) { l.limits = limits } }
func WithLogger(log zerolog.Logger) Option   { return func(l *Localizer) { l.log = log } }

func New(provider translator.Provider, publisher Publisher, orch *orchestrator.Orchestrator, opts ...Option) *Localizer {
	l := &Localizer{
		provider:  provider,
		publisher: publisher,
		orch:      orch,
		limits:    fields.DefaultLimits(),
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var errNothingToTranslate = errors.New("no source text to translate")

// Run localizes job into every target locale. Per-locale failures land in
// the report; the returned error is reserved for a job that cannot start.
func (l *Localizer) Run(ctx context.Context, job Job) (*Report, error) {
	source, err := selectSource(job)
	if err != nil {
		return nil, err
	}
	names := sourceFields(job.Kind, source)
	if len(names) == 0 {
		return nil, errNothingToTranslate
	}

	started := l.now()
	baseValues, baseErr := l.publishBase(ctx, job)
	res := orchestrator.Dispatch(ctx, l.orch, job.Targets, func(ctx context.Context, loc locale.Locale) (map[string]string, error) {
		return l.localize(ctx, job, source, names, loc)
	})
	switch {
	case baseErr != nil:
		res.Errors[job.Base] = baseErr.Error()
	case baseValues != nil:
		res.Results[job.Base] = baseValues
	}

	report := &Report{Results: res.Results, Errors: res.Errors}
	if l.history != nil {
		id, err := l.history.SaveRun(ctx, store.Run{
			Kind:       job.Kind.Name,
			ParentID:   job.ParentID,
			Provider:   l.provider.Name(),
			Model:      l.provider.Model(),
			Seed:       job.Seed,
			DryRun:     job.DryRun,
			Succeeded:  res.Succeeded(),
			Failed:     res.Failed(),
			StartedAt:  started,
			FinishedAt: l.now(),
		}, results(res))
		if err != nil {
			l.log.Warn().Err(err).Msg("Failed to record run")
		}
		report.RunID = id
	}
	return report, nil
}

// publishBase writes the overridden values to the base locale. It returns
// nil values when there is nothing to publish.
func (l *Localizer) publishBase(ctx context.Context, job Job) (map[string]string, error) {
	if job.DryRun || job.Base == "" || len(job.Overrides) == 0 {
		return nil, nil
	}
	values := make(map[string]string, len(job.Overrides))
	for name, text := range job.Overrides {
		if strings.TrimSpace(text) == "" {
			continue
		}
		values[name] = fields.Fit(text, l.limits.Get(name), name == fields.Keywords)
	}
	if len(values) == 0 {
		return nil, nil
	}
	if _, err := l.publisher.SaveLocalization(ctx, job.Kind, job.ParentID, job.Base, values); err != nil {
		l.log.Error().Err(err).Str("locale", job.Base).Msg("Failed to update base locale")
		return nil, err
	}
	return values, nil
}

func (l *Localizer) localize(ctx context.Context, job Job, source map[string]string, names []string, loc locale.Locale) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		req := internal.TranslationRequest{
			ID:         uuid.NewString(),
			Field:      name,
			SourceText: source[name],
			Locale:     loc.Code,
			MaxLength:  l.limits.Get(name),
			Keywords:   name == fields.Keywords,
			Seed:       job.Seed,
			Refinement: job.Refinement,
			Timestamp:  l.now(),
		}

		text, err := l.translate(ctx, req, loc)
		if err != nil {
			return nil, err
		}
		fitted := fields.Fit(text, req.MaxLength, req.Keywords)
		if fitted != text {
			l.log.Debug().Str("locale", loc.Code).Str("field", name).
				Int("length", fields.Len(text)).Int("max", req.MaxLength).Msg("Truncated")
		}
		l.check(fitted, req, loc)
		out[name] = fitted
	}

	if job.DryRun {
		return out, nil
	}
	if _, err := l.publisher.SaveLocalization(ctx, job.Kind, job.ParentID, loc.Code, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Localizer) translate(ctx context.Context, req internal.TranslationRequest, loc locale.Locale) (string, error) {
	provider, model := l.provider.Name(), l.provider.Model()
	if l.memory != nil {
		text, ok, err := l.memory.Lookup(ctx, provider, model, req)
		if err != nil {
			l.log.Warn().Err(err).Str("locale", loc.Code).Msg("Translation memory lookup failed")
		}
		if ok {
			return text, nil
		}
	}

	text, err := l.provider.Translate(ctx, translator.Request{
		Text:           req.SourceText,
		TargetLanguage: loc.Name,
		MaxLength:      req.MaxLength,
		Keywords:       req.Keywords,
		Seed:           req.Seed,
		Refinement:     req.Refinement,
	})
	if err != nil {
		return "", err
	}

	if l.memory != nil {
		if err := l.memory.Remember(ctx, provider, model, req, text); err != nil {
			l.log.Warn().Err(err).Str("locale", loc.Code).Msg("Failed to save translation memory")
		}
	}
	return text, nil
}

// check logs a language mismatch. It never fails the locale: short store
// fields and brand names confuse the detector too often.
func (l *Localizer) check(text string, req internal.TranslationRequest, loc locale.Locale) {
	if l.checker == nil || req.Keywords {
		return
	}
	if ok, err := l.checker.IsValid(text, loc.Code); !ok {
		l.log.Warn().Err(err).Str("locale", loc.Code).Str("field", req.Field).Msg("Translation may be in the wrong language")
	}
}

// selectSource applies Overrides to Source and narrows it to Fields. Field
// names the kind does not publish are an error.
func selectSource(job Job) (map[string]string, error) {
	wanted := make(map[string]struct{}, len(job.Fields)+len(job.Overrides))
	for _, name := range job.Fields {
		wanted[name] = struct{}{}
	}
	for name := range job.Overrides {
		wanted[name] = struct{}{}
	}
	for name := range wanted {
		if _, ok := job.Kind.Attributes[name]; !ok {
			return nil, fmt.Errorf("unknown %s field %q (have %s)", job.Kind.Name, name, strings.Join(job.Kind.Fields(), ", "))
		}
	}

	source := make(map[string]string, len(job.Source)+len(job.Overrides))
	for name, text := range job.Source {
		if _, ok := wanted[name]; ok || len(wanted) == 0 {
			source[name] = text
		}
	}
	for name, text := range job.Overrides {
		source[name] = text
	}
	return source, nil
}

// sourceFields returns the fields with non-blank source text that the kind
// can publish, in a stable order.
func sourceFields(kind asc.Kind, source map[string]string) []string {
	var names []string
	for name, text := range source {
		if _, ok := kind.Attributes[name]; !ok {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func results(res *orchestrator.Result[map[string]string]) []internal.TranslationResult {
	out := make([]internal.TranslationResult, 0, len(res.Results)+len(res.Errors))
	for code, values := range res.Results {
		out = append(out, internal.TranslationResult{Locale: code, Fields: values, Success: true})
	}
	for code, msg := range res.Errors {
		out = append(out, internal.TranslationResult{Locale: code, Error: msg})
	}
	return out
}
