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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/valpere/storetran/internal/asc"
	"github.com/valpere/storetran/internal/audit"
	"github.com/valpere/storetran/internal/fields"
	"github.com/valpere/storetran/internal/store"
	"github.com/valpere/storetran/internal/translator"
	"github.com/valpere/storetran/internal/workflow"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgCyan, color.Bold)
)

// newASCClient builds an App Store Connect client from the loaded config.
func newASCClient() (*asc.Client, error) {
	if err := cfg.ValidateASC(); err != nil {
		return nil, err
	}
	ascCfg := cfg.AppStoreConnect

	keyPath, err := cfg.ResolvePrivateKeyPath()
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	return asc.NewClient(asc.Credentials{
		KeyID:      ascCfg.KeyID,
		IssuerID:   ascCfg.IssuerID,
		PrivateKey: key,
	},
		asc.WithBaseURL(ascCfg.BaseURL),
		asc.WithHTTPClient(&http.Client{Timeout: ascCfg.Timeout}),
		asc.WithRetryPolicy(asc.RetryPolicy{
			MaxRetries: ascCfg.MaxRetries,
			BaseDelay:  ascCfg.RetryBaseDelay,
			Jitter:     ascCfg.RetryJitter,
		}),
		asc.WithLogger(logger.With().Str("component", "asc").Logger()),
	)
}

// newAuditSink opens the per-run audit log. An empty audit_dir disables it.
func newAuditSink() (audit.Sink, io.Closer, error) {
	if cfg.AuditDir == "" {
		return audit.Nop{}, io.NopCloser(nil), nil
	}
	l, err := audit.NewFile(cfg.AuditDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	logger.Debug().Str("path", l.Path()).Msg("Audit log opened")
	return l, l, nil
}

func newProvider(sink audit.Sink) (translator.Provider, error) {
	name := cfg.DefaultProvider
	return translator.New(name, cfg.Provider(name), sink)
}

func openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func fieldLimits() fields.Limits {
	return fields.DefaultLimits().Merge(cfg.FieldLimits)
}

// randomSeed draws a positive seed shared by every locale of one run.
func randomSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return int64(binary.BigEndian.Uint64(b[:])>>33) + 1
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printReport writes the per-locale outcome of a run, failures last.
func printReport(w io.Writer, report *workflow.Report, dryRun bool) {
	action := "Published"
	if dryRun {
		action = "Translated (dry run)"
	}

	codes := make([]string, 0, len(report.Results))
	for code := range report.Results {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		successColor.Fprintf(w, "✓ %s", code)
		fmt.Fprintln(w)
		values := report.Results[code]
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "    %-18s %s\n", name+":", snippet(values[name], 70))
		}
	}

	failed := make([]string, 0, len(report.Errors))
	for code := range report.Errors {
		failed = append(failed, code)
	}
	sort.Strings(failed)
	for _, code := range failed {
		failureColor.Fprintf(w, "✗ %s", code)
		fmt.Fprintf(w, " %s\n", report.Errors[code])
	}

	fmt.Fprintln(w)
	headerColor.Fprintf(w, "%s %d locale(s), %d failed", action, len(report.Results), len(report.Errors))
	fmt.Fprintln(w)
	if report.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", report.RunID)
	}
}
