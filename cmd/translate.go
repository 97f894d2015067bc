/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/storetran/internal/asc"
	"github.com/valpere/storetran/internal/locale"
	"github.com/valpere/storetran/internal/orchestrator"
	"github.com/valpere/storetran/internal/validator"
	"github.com/valpere/storetran/internal/workflow"
)

var (
	targetLocales string
	sourceLocale  string
	seedArg       int64
	noSeed        bool
	refinement    string
	dryRun        bool
	noCache       bool
	validate      bool
	pacingArg     time.Duration
	onlyFields    []string
	textArgs      []string
	platformArg   string
)

// parent is one resource that owns localizations.
type parent struct {
	ID    string
	Label string
}

// parentResolver turns the command argument into the resources whose
// localizations are translated.
type parentResolver func(ctx context.Context, client *asc.Client, arg string) ([]parent, error)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate and publish App Store localizations",
	Long: `Translate the base-locale metadata of an App Store Connect resource into
other locales and publish the results.

Resources:
  version             App Store version: description, keywords, promotional text, what's new
  app-info            App info: name, subtitle
  iap                 In-app purchase: name, description
  subscription        Subscription: name, description
  subscription-group  Subscription group: name, custom app name

By default every supported locale without a localization is translated.
Use --locales de-DE,fr-FR to pick locales or --locales all to overwrite all.

--fields limits a run to some fields. --text field=value (or field=@file)
replaces the source text of a field, publishes it to the base locale and
pushes its translation to the existing locales:

  storetran translate version 123 --text whats_new=@notes.txt

Each run uses one seed for every locale so that providers which honor it
answer consistently. Pass --seed to reuse a seed or --no-seed to omit it.`,
}

func newTranslateCmd(use, short string, kind asc.Kind, resolve parentResolver) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, kind, resolve, args[0])
		},
	}
}

func byID(_ context.Context, _ *asc.Client, id string) ([]parent, error) {
	return []parent{{ID: id, Label: id}}, nil
}

// latestVersions resolves the newest version of every selected platform.
func latestVersions(ctx context.Context, client *asc.Client, appID string) ([]parent, error) {
	platforms, err := parsePlatforms(platformArg)
	if err != nil {
		return nil, err
	}
	versions, err := client.LatestVersions(ctx, appID, platforms)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("app %s has no App Store version for %s", appID, strings.Join(platforms, ", "))
	}

	out := make([]parent, 0, len(versions))
	for _, v := range versions {
		logger.Info().Str("platform", v.Platform).Str("version", v.VersionString).
			Str("state", v.AppStoreState).Msg("Using App Store version")
		out = append(out, parent{ID: v.ID, Label: fmt.Sprintf("%s %s", v.Platform, v.VersionString)})
	}
	return out, nil
}

func primaryAppInfo(ctx context.Context, client *asc.Client, appID string) ([]parent, error) {
	id, ok, err := client.PrimaryAppInfoID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list app infos: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("app %s has no app info", appID)
	}
	return []parent{{ID: id, Label: "app info"}}, nil
}

func runTranslate(cmd *cobra.Command, kind asc.Kind, resolve parentResolver, arg string) error {
	ctx := cmd.Context()

	overrides, err := parseOverrides(textArgs)
	if err != nil {
		return err
	}

	client, err := newASCClient()
	if err != nil {
		return err
	}
	parents, err := resolve(ctx, client, arg)
	if err != nil {
		return err
	}

	pacing := cfg.Pacing
	if cmd.Flags().Changed("pacing") {
		pacing = pacingArg
	}

	sink, closer, err := newAuditSink()
	if err != nil {
		return err
	}
	defer closer.Close()

	provider, err := newProvider(sink)
	if err != nil {
		return err
	}

	opts := []workflow.Option{
		workflow.WithLimits(fieldLimits()),
		workflow.WithLogger(logger),
	}
	if cfg.DBPath != "" {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, workflow.WithHistory(db))
		if !noCache {
			opts = append(opts, workflow.WithMemory(db))
		}
	}
	if validate {
		opts = append(opts, workflow.WithChecker(validator.New()))
	}

	action := "Published"
	if dryRun {
		action = "Translated"
	}
	orch := orchestrator.New(orchestrator.Config{
		Concurrency: cfg.Concurrency,
		Pacing:      pacing,
		Action:      action,
		Progress:    os.Stderr,
		Logger:      logger,
	})
	localizer := workflow.New(provider, client, orch, opts...)

	template := workflow.Job{
		Kind:       kind,
		Seed:       runSeed(cmd),
		Refinement: cfg.Refinement,
		DryRun:     dryRun,
		Fields:     onlyFields,
		Overrides:  overrides,
	}
	if cmd.Flags().Changed("refine") {
		template.Refinement = refinement
	}

	out := cmd.OutOrStdout()
	failed, total := 0, 0
	var failures []string
	for _, p := range parents {
		if len(parents) > 1 {
			headerColor.Fprintf(out, "== %s ==", p.Label)
			fmt.Fprintln(out)
		}
		job := template
		job.ParentID = p.ID
		n, t, err := translateParent(ctx, out, localizer, client, job)
		if err != nil && len(parents) == 1 {
			return err
		}
		if err != nil {
			failureColor.Fprintf(out, "✗ %s", p.Label)
			fmt.Fprintf(out, " %v\n", err)
			failures = append(failures, p.Label)
			continue
		}
		failed += n
		total += t
	}

	switch {
	case len(failures) > 0:
		return fmt.Errorf("%d of %d %s resource(s) could not be translated: %s",
			len(failures), len(parents), kind.Name, strings.Join(failures, ", "))
	case failed > 0:
		return fmt.Errorf("%d of %d locale(s) failed", failed, total)
	}
	return nil
}

// translateParent localizes one parent and prints its report. It returns the
// number of failed and attempted locales.
func translateParent(ctx context.Context, out io.Writer, localizer *workflow.Localizer, client *asc.Client, job workflow.Job) (int, int, error) {
	records, err := client.ListLocalizations(ctx, job.Kind, job.ParentID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list localizations: %w", err)
	}
	existing := make([]string, 0, len(records))
	for _, r := range records {
		existing = append(existing, r.Locale)
	}

	base := sourceLocale
	if base == "" {
		var ok bool
		if base, ok = locale.DetectBase(existing); !ok {
			return 0, 0, fmt.Errorf("%s %s has no localization to translate from", job.Kind.Name, job.ParentID)
		}
	}
	for _, r := range records {
		if r.Locale == base {
			job.Source = r.Fields
		}
	}
	if job.Source == nil {
		return 0, 0, fmt.Errorf("source locale %s not found among %s", base, strings.Join(existing, ", "))
	}
	job.Base = base

	// Pushing selected fields goes to the locales that already exist.
	partial := len(job.Fields) > 0 || len(job.Overrides) > 0
	targets, err := selectTargets(targetLocales, existing, base, partial)
	if err != nil {
		return 0, 0, err
	}
	if len(targets) == 0 && len(job.Overrides) == 0 {
		fmt.Fprintln(out, "All locales are already localized.")
		return 0, 0, nil
	}
	job.Targets = targets

	event := logger.Info().
		Str("kind", job.Kind.Name).
		Str("parent", job.ParentID).
		Str("source", base).
		Int("locales", len(targets))
	if len(job.Fields) > 0 {
		event = event.Strs("fields", job.Fields)
	}
	if job.Seed != nil {
		event = event.Int64("seed", *job.Seed)
	}
	event.Msg("Starting localization")

	report, err := localizer.Run(ctx, job)
	if err != nil {
		return 0, 0, err
	}
	printReport(out, report, job.DryRun)
	return len(report.Errors), len(report.Results) + len(report.Errors), nil
}

// selectTargets resolves --locales: empty means the missing locales, or the
// existing ones when only some fields are pushed; "all" means every supported
// locale. The source locale is never a target.
func selectTargets(raw string, existing []string, base string, existingOnly bool) ([]locale.Locale, error) {
	raw = strings.TrimSpace(raw)
	var targets []locale.Locale
	switch {
	case raw == "" && existingOnly:
		for _, code := range existing {
			targets = append(targets, locale.Resolve(code))
		}
	case raw == "":
		return locale.Missing(existing, base), nil
	case strings.EqualFold(raw, "all"):
		targets = locale.Supported()
	default:
		var err error
		if targets, err = locale.ParseList(raw); err != nil {
			return nil, err
		}
	}

	out := targets[:0]
	for _, l := range targets {
		if l.Code != base {
			out = append(out, l)
		}
	}
	return out, nil
}

// parseOverrides parses field=value pairs. A value starting with @ names a
// file holding the text.
func parseOverrides(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --text %q, want field=value", arg)
		}
		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read text for %s: %w", name, err)
			}
			value = string(data)
		}
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("empty text for %s", name)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

// parsePlatforms parses --platform. Empty means every platform.
func parsePlatforms(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return asc.Platforms, nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		p := strings.ToUpper(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		known := false
		for _, q := range asc.Platforms {
			if p == q {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown platform %q (have %s)", part, strings.Join(asc.Platforms, ", "))
		}
		out = append(out, p)
	}
	return out, nil
}

func runSeed(cmd *cobra.Command) *int64 {
	switch {
	case noSeed:
		return nil
	case cmd.Flags().Changed("seed"):
		return &seedArg
	case cfg.Seed != 0:
		seed := cfg.Seed
		return &seed
	default:
		seed := randomSeed()
		return &seed
	}
}

func init() {
	rootCmd.AddCommand(translateCmd)

	flags := translateCmd.PersistentFlags()
	flags.StringVarP(&targetLocales, "locales", "l", "", `Target locales (comma-separated), or "all"; default: locales without a localization`)
	flags.StringVarP(&sourceLocale, "source", "s", "", "Source locale (default: English variant or first existing locale)")
	flags.Int64Var(&seedArg, "seed", 0, "Provider seed shared by every locale of the run")
	flags.BoolVar(&noSeed, "no-seed", false, "Do not send a seed")
	flags.StringVar(&refinement, "refine", "", `Extra instruction appended to the prompt, e.g. "Use a playful tone."`)
	flags.BoolVar(&dryRun, "dry-run", false, "Translate and print without publishing")
	flags.BoolVar(&noCache, "no-cache", false, "Bypass the translation memory")
	flags.BoolVar(&validate, "validate", true, "Warn when a translation looks like the wrong language")
	flags.DurationVar(&pacingArg, "pacing", 0, "Pause after each locale, e.g. 500ms")
	flags.StringSliceVar(&onlyFields, "fields", nil, "Only these fields (e.g. whats_new,promotional_text)")
	flags.StringArrayVar(&textArgs, "text", nil, "New source text as field=value or field=@file (repeatable)")
	translateCmd.MarkFlagsMutuallyExclusive("seed", "no-seed")

	versionCmd := newTranslateCmd("version <app-id>", "Translate the latest App Store version of each platform", asc.VersionLocalizations, latestVersions)
	versionCmd.Flags().StringVar(&platformArg, "platform", "", "Platforms (comma-separated: IOS, MAC_OS, TV_OS, VISION_OS); default: all")

	translateCmd.AddCommand(
		versionCmd,
		newTranslateCmd("app-info <app-id>", "Translate the app name and subtitle", asc.AppInfoLocalizations, primaryAppInfo),
		newTranslateCmd("iap <iap-id>", "Translate an in-app purchase", asc.IAPLocalizations, byID),
		newTranslateCmd("subscription <subscription-id>", "Translate a subscription", asc.SubscriptionLocalizations, byID),
		newTranslateCmd("subscription-group <group-id>", "Translate a subscription group", asc.SubscriptionGroupLocalizations, byID),
	)
}
