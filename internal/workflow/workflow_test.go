package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/storetran/internal"
	"github.com/valpere/storetran/internal/asc"
	"github.com/valpere/storetran/internal/audit"
	"github.com/valpere/storetran/internal/fields"
	"github.com/valpere/storetran/internal/locale"
	"github.com/valpere/storetran/internal/orchestrator"
	"github.com/valpere/storetran/internal/store"
	"github.com/valpere/storetran/internal/translator"
)

type fakeProvider struct {
	calls atomic.Int32
	fail  map[string]error
	mu    sync.Mutex
	reqs  []translator.Request
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-1" }

func (p *fakeProvider) Translate(_ context.Context, req translator.Request) (string, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if err := p.fail[req.TargetLanguage]; err != nil {
		return "", err
	}
	return "[" + req.TargetLanguage + "] " + req.Text, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	saved  map[string]map[string]string
	parent string
	fail   map[string]error
}

func (p *fakePublisher) SaveLocalization(_ context.Context, k asc.Kind, parentID, code string, values map[string]string) (asc.LocalizationRecord, error) {
	if err := p.fail[code]; err != nil {
		return asc.LocalizationRecord{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saved == nil {
		p.saved = make(map[string]map[string]string)
	}
	p.saved[code] = values
	p.parent = parentID
	return asc.LocalizationRecord{ID: "loc-" + code, Locale: code, Fields: values}, nil
}

func locales(t *testing.T, raw string) []locale.Locale {
	t.Helper()
	ls, err := locale.ParseList(raw)
	require.NoError(t, err)
	return ls
}

func newOrchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Config{Concurrency: 4})
}

func TestRun_PublishesEveryLocale(t *testing.T) {
	provider := &fakeProvider{}
	pub := &fakePublisher{}
	l := New(provider, pub, newOrchestrator())

	report, err := l.Run(context.Background(), Job{
		Kind:     asc.VersionLocalizations,
		ParentID: "ver-1",
		Source: map[string]string{
			fields.Description: "A photo editor.",
			fields.WhatsNew:    "   ",
			fields.Name:        "not a version field",
		},
		Targets: locales(t, "de-DE,fr-FR"),
	})
	require.NoError(t, err)

	assert.Empty(t, report.Errors)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "[German] A photo editor.", report.Results["de-DE"][fields.Description])
	assert.NotContains(t, report.Results["de-DE"], fields.WhatsNew)
	assert.NotContains(t, report.Results["de-DE"], fields.Name)

	assert.Equal(t, "ver-1", pub.parent)
	assert.Equal(t, report.Results["fr-FR"], pub.saved["fr-FR"])
	assert.EqualValues(t, 2, provider.calls.Load())
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	provider := &fakeProvider{fail: map[string]error{"French": errors.New("HTTP 500: upstream")}}
	pub := &fakePublisher{fail: map[string]error{"ja": errors.New("HTTP 422: locale not allowed")}}
	l := New(provider, pub, newOrchestrator())

	report, err := l.Run(context.Background(), Job{
		Kind:     asc.AppInfoLocalizations,
		ParentID: "info-1",
		Source:   map[string]string{fields.Name: "Snap"},
		Targets:  locales(t, "de-DE,fr-FR,ja"),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"fr-FR": "HTTP 500: upstream",
		"ja":    "HTTP 422: locale not allowed",
	}, report.Errors)
	assert.Len(t, report.Results, 1)
	assert.Contains(t, report.Results, "de-DE")
}

func TestRun_NothingToTranslate(t *testing.T) {
	l := New(&fakeProvider{}, &fakePublisher{}, newOrchestrator())
	_, err := l.Run(context.Background(), Job{
		Kind:    asc.IAPLocalizations,
		Source:  map[string]string{fields.IAPName: " "},
		Targets: locales(t, "de-DE"),
	})
	assert.ErrorIs(t, err, errNothingToTranslate)
}

func TestRun_DryRunDoesNotPublish(t *testing.T) {
	pub := &fakePublisher{}
	l := New(&fakeProvider{}, pub, newOrchestrator())

	report, err := l.Run(context.Background(), Job{
		Kind:    asc.IAPLocalizations,
		Source:  map[string]string{fields.IAPName: "Pro"},
		Targets: locales(t, "de-DE"),
		DryRun:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "[German] Pro", report.Results["de-DE"][fields.IAPName])
	assert.Empty(t, pub.saved)
}

func TestRun_KeywordsAndSeedReachProvider(t *testing.T) {
	provider := &fakeProvider{}
	seed := int64(99)
	l := New(provider, &fakePublisher{}, newOrchestrator(), WithLimits(fields.DefaultLimits().Merge(map[string]int{fields.Keywords: 20})))

	report, err := l.Run(context.Background(), Job{
		Kind:       asc.VersionLocalizations,
		Source:     map[string]string{fields.Keywords: "photo,editor,filters,collage"},
		Targets:    locales(t, "de-DE"),
		Seed:       &seed,
		Refinement: "Use informal tone.",
	})
	require.NoError(t, err)

	require.Len(t, provider.reqs, 1)
	req := provider.reqs[0]
	assert.True(t, req.Keywords)
	assert.Equal(t, 20, req.MaxLength)
	assert.Equal(t, "Use informal tone.", req.Refinement)
	require.NotNil(t, req.Seed)
	assert.EqualValues(t, 99, *req.Seed)

	// Whole keywords only: "[German] photo,editor" would be 21 characters.
	assert.Equal(t, "[German] photo", report.Results["de-DE"][fields.Keywords])
}

func TestRun_MemoryAndHistory(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	provider := &fakeProvider{}
	job := Job{
		Kind:     asc.SubscriptionLocalizations,
		ParentID: "sub-1",
		Source:   map[string]string{fields.SubscriptionName: "Monthly"},
		Targets:  locales(t, "de-DE,fr-FR"),
	}
	l := New(provider, &fakePublisher{}, newOrchestrator(), WithMemory(db), WithHistory(db))

	first, err := l.Run(context.Background(), job)
	require.NoError(t, err)
	second, err := l.Run(context.Background(), job)
	require.NoError(t, err)

	assert.EqualValues(t, 2, provider.calls.Load(), "second run served from memory")
	assert.Equal(t, first.Results, second.Results)

	require.NotEmpty(t, first.RunID)
	run, results, err := db.GetRun(context.Background(), first.RunID)
	require.NoError(t, err)
	assert.Equal(t, "subscription", run.Kind)
	assert.Equal(t, "fake", run.Provider)
	assert.Equal(t, 2, run.Succeeded)
	require.Len(t, results, 2)
	assert.Equal(t, "[German] Monthly", results[0].Fields[fields.SubscriptionName])
}

func TestRun_FieldsRestrictSource(t *testing.T) {
	provider := &fakeProvider{}
	pub := &fakePublisher{}
	l := New(provider, pub, newOrchestrator())

	report, err := l.Run(context.Background(), Job{
		Kind: asc.VersionLocalizations,
		Source: map[string]string{
			fields.Description: "Edit photos.",
			fields.Keywords:    "photo",
			fields.WhatsNew:    "Bug fixes.",
		},
		Targets: locales(t, "de-DE"),
		Fields:  []string{fields.WhatsNew},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, provider.calls.Load())
	assert.Equal(t, map[string]string{fields.WhatsNew: "[German] Bug fixes."}, report.Results["de-DE"])
	assert.Equal(t, map[string]string{fields.WhatsNew: "[German] Bug fixes."}, pub.saved["de-DE"])
}

func TestRun_OverrideReplacesSourceAndUpdatesBase(t *testing.T) {
	provider := &fakeProvider{}
	pub := &fakePublisher{}
	l := New(provider, pub, newOrchestrator())

	report, err := l.Run(context.Background(), Job{
		Kind:      asc.VersionLocalizations,
		ParentID:  "ver-1",
		Source:    map[string]string{fields.Description: "Edit photos.", fields.WhatsNew: "Old notes."},
		Targets:   locales(t, "de-DE,fr-FR"),
		Overrides: map[string]string{fields.WhatsNew: "New filters."},
		Base:      "en-US",
	})
	require.NoError(t, err)

	assert.EqualValues(t, 2, provider.calls.Load(), "only the overridden field is translated")
	assert.Equal(t, "[German] New filters.", pub.saved["de-DE"][fields.WhatsNew])
	assert.NotContains(t, pub.saved["de-DE"], fields.Description)
	assert.Equal(t, map[string]string{fields.WhatsNew: "New filters."}, pub.saved["en-US"])
	assert.Equal(t, "New filters.", report.Results["en-US"][fields.WhatsNew])
}

func TestRun_OverrideDryRunLeavesBase(t *testing.T) {
	pub := &fakePublisher{}
	l := New(&fakeProvider{}, pub, newOrchestrator())

	report, err := l.Run(context.Background(), Job{
		Kind:      asc.VersionLocalizations,
		Targets:   locales(t, "de-DE"),
		Overrides: map[string]string{fields.PromotionalText: "Summer sale"},
		Base:      "en-US",
		DryRun:    true,
	})
	require.NoError(t, err)
	assert.Empty(t, pub.saved)
	assert.NotContains(t, report.Results, "en-US")
	assert.Equal(t, "[German] Summer sale", report.Results["de-DE"][fields.PromotionalText])
}

func TestRun_BaseFailureDoesNotStopTargets(t *testing.T) {
	pub := &fakePublisher{fail: map[string]error{"en-US": errors.New("locked")}}
	l := New(&fakeProvider{}, pub, newOrchestrator())

	report, err := l.Run(context.Background(), Job{
		Kind:      asc.VersionLocalizations,
		Targets:   locales(t, "de-DE"),
		Overrides: map[string]string{fields.WhatsNew: "Fixes."},
		Base:      "en-US",
	})
	require.NoError(t, err)
	assert.Equal(t, "locked", report.Errors["en-US"])
	assert.Contains(t, report.Results, "de-DE")
}

func TestRun_UnknownFieldRejected(t *testing.T) {
	l := New(&fakeProvider{}, &fakePublisher{}, newOrchestrator())

	_, err := l.Run(context.Background(), Job{
		Kind:    asc.IAPLocalizations,
		Source:  map[string]string{fields.IAPName: "Pro"},
		Targets: locales(t, "de-DE"),
		Fields:  []string{fields.WhatsNew},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whats_new")
}

// staleMemory always hits but cannot record usage.
type staleMemory struct{}

func (staleMemory) Lookup(context.Context, string, string, internal.TranslationRequest) (string, bool, error) {
	return "Aus dem Speicher", true, store.ErrUsageNotRecorded
}

func (staleMemory) Remember(context.Context, string, string, internal.TranslationRequest, string) error {
	return nil
}

func TestRun_MemoryHitWithErrorIsUsed(t *testing.T) {
	provider := &fakeProvider{}
	l := New(provider, &fakePublisher{}, newOrchestrator(), WithMemory(staleMemory{}))

	report, err := l.Run(context.Background(), Job{
		Kind:    asc.SubscriptionLocalizations,
		Source:  map[string]string{fields.SubscriptionName: "Monthly"},
		Targets: locales(t, "de-DE"),
	})
	require.NoError(t, err)
	assert.Zero(t, provider.calls.Load())
	assert.Equal(t, "Aus dem Speicher", report.Results["de-DE"][fields.SubscriptionName])
}

type fakeChecker struct{ calls atomic.Int32 }

func (c *fakeChecker) IsValid(string, string) (bool, error) {
	c.calls.Add(1)
	return false, errors.New("expected de but detected en")
}

func TestRun_LanguageMismatchIsWarningOnly(t *testing.T) {
	checker := &fakeChecker{}
	l := New(&fakeProvider{}, &fakePublisher{}, newOrchestrator(), WithChecker(checker))

	report, err := l.Run(context.Background(), Job{
		Kind:    asc.VersionLocalizations,
		Source:  map[string]string{fields.Description: "Edit photos.", fields.Keywords: "photo"},
		Targets: locales(t, "de-DE"),
	})
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.EqualValues(t, 1, checker.calls.Load(), "keywords are not checked")
}

// The provider answers over budget twice; the published value must still fit.
func TestRun_OverLimitTwice_TruncatedBeforePublish(t *testing.T) {
	long := "Unbegrenzter Zugang zu allen Premium Filtern!"
	require.Equal(t, 45, fields.Len(long))

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": long}},
			"stop_reason": "end_turn",
		})
	}))
	defer server.Close()

	provider := translator.NewAnthropicProvider(translator.Config{APIKey: "k", BaseURL: server.URL}, audit.Nop{})
	pub := &fakePublisher{}
	l := New(provider, pub, newOrchestrator())

	report, err := l.Run(context.Background(), Job{
		Kind:     asc.IAPLocalizations,
		ParentID: "iap-1",
		Source:   map[string]string{fields.IAPName: "Unlimited access to every premium filter"},
		Targets:  locales(t, "de-DE"),
	})
	require.NoError(t, err)
	require.Empty(t, report.Errors)

	assert.EqualValues(t, 2, requests.Load())
	published := pub.saved["de-DE"][fields.IAPName]
	assert.LessOrEqual(t, fields.Len(published), 30)
	assert.True(t, strings.HasPrefix(long, published))
	assert.Equal(t, published, report.Results["de-DE"][fields.IAPName])
}
