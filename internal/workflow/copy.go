package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/valpere/storetran/internal/asc"
	"github.com/valpere/storetran/internal/locale"
	"github.com/valpere/storetran/internal/orchestrator"
	"github.com/valpere/storetran/internal/store"
)

// Lister reads the localizations of a parent. *asc.Client satisfies it.
type Lister interface {
	ListLocalizations(ctx context.Context, k asc.Kind, parentID string) ([]asc.LocalizationRecord, error)
}

// CopyJob copies localizations from one parent to another of the same kind,
// typically from a released version to the next one.
type CopyJob struct {
	Kind asc.Kind
	From string
	To   string
	// Locales restricts the copy; empty copies every source locale.
	Locales []locale.Locale
	DryRun  bool
}

// Copier publishes existing localizations under another parent without
// calling a provider.
type Copier struct {
	source    Lister
	publisher Publisher
	orch      *orchestrator.Orchestrator
	history   History
	log       zerolog.Logger
	now       func() time.Time
}

// NewCopier builds a Copier. history may be nil.
func NewCopier(source Lister, publisher Publisher, orch *orchestrator.Orchestrator, history History, log zerolog.Logger) *Copier {
	return &Copier{
		source:    source,
		publisher: publisher,
		orch:      orch,
		history:   history,
		log:       log,
		now:       time.Now,
	}
}

var errSameParent = errors.New("source and target must differ")

// Copy publishes the non-blank fields of every selected source locale to
// job.To. Locales missing from the source fail individually.
func (c *Copier) Copy(ctx context.Context, job CopyJob) (*Report, error) {
	if job.From == job.To {
		return nil, errSameParent
	}
	records, err := c.source.ListLocalizations(ctx, job.Kind, job.From)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s localizations of %s: %w", job.Kind.Name, job.From, err)
	}
	byLocale := make(map[string]map[string]string, len(records))
	for _, r := range records {
		byLocale[r.Locale] = nonBlank(r.Fields)
	}

	targets := job.Locales
	if len(targets) == 0 {
		for _, r := range records {
			targets = append(targets, locale.Resolve(r.Locale))
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%s %s has no localizations to copy", job.Kind.Name, job.From)
	}

	started := c.now()
	res := orchestrator.Dispatch(ctx, c.orch, targets, func(ctx context.Context, loc locale.Locale) (map[string]string, error) {
		values, ok := byLocale[loc.Code]
		if !ok {
			return nil, fmt.Errorf("locale %s not found in %s", loc.Code, job.From)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("locale %s has no text in %s", loc.Code, job.From)
		}
		if job.DryRun {
			return values, nil
		}
		if _, err := c.publisher.SaveLocalization(ctx, job.Kind, job.To, loc.Code, values); err != nil {
			return nil, err
		}
		return values, nil
	})

	report := &Report{Results: res.Results, Errors: res.Errors}
	if c.history != nil {
		id, err := c.history.SaveRun(ctx, store.Run{
			Kind:       job.Kind.Name,
			ParentID:   job.To,
			Provider:   "copy:" + job.From,
			DryRun:     job.DryRun,
			Succeeded:  res.Succeeded(),
			Failed:     res.Failed(),
			StartedAt:  started,
			FinishedAt: c.now(),
		}, results(res))
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to record copy")
		}
		report.RunID = id
	}
	return report, nil
}

func nonBlank(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for name, v := range values {
		if strings.TrimSpace(v) != "" {
			out[name] = v
		}
	}
	return out
}

// ExportedLocalization is one locale of an export.
type ExportedLocalization struct {
	Locale   string            `json:"locale"`
	Language string            `json:"language"`
	ID       string            `json:"id"`
	Fields   map[string]string `json:"fields"`
}

// Export is a snapshot of every localization of a parent.
type Export struct {
	Kind          string                 `json:"kind"`
	ParentID      string                 `json:"parent_id"`
	ExportedAt    time.Time              `json:"exported_at"`
	Localizations []ExportedLocalization `json:"localizations"`
}

// Snapshot reads the localizations of parentID ordered by locale.
func Snapshot(ctx context.Context, source Lister, kind asc.Kind, parentID string) (*Export, error) {
	records, err := source.ListLocalizations(ctx, kind, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s localizations of %s: %w", kind.Name, parentID, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Locale < records[j].Locale })

	out := &Export{
		Kind:          kind.Name,
		ParentID:      parentID,
		ExportedAt:    time.Now().UTC(),
		Localizations: make([]ExportedLocalization, 0, len(records)),
	}
	for _, r := range records {
		out.Localizations = append(out.Localizations, ExportedLocalization{
			Locale:   r.Locale,
			Language: locale.Resolve(r.Locale).Name,
			ID:       r.ID,
			Fields:   r.Fields,
		})
	}
	return out, nil
}
