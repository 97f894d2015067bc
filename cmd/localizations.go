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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/storetran/internal/asc"
	"github.com/valpere/storetran/internal/fields"
	"github.com/valpere/storetran/internal/locale"
	"github.com/valpere/storetran/internal/orchestrator"
	"github.com/valpere/storetran/internal/workflow"
)

var (
	copyKind    string
	copyLocales string
	copyDryRun  bool
	exportKind  string
	exportPath  string
)

func lookupKind(name string) (asc.Kind, error) {
	kind, ok := asc.Kinds()[name]
	if !ok {
		return asc.Kind{}, fmt.Errorf("unknown kind %q (available: %s)", name, strings.Join(kindNames(), ", "))
	}
	return kind, nil
}

func kindNames() []string {
	var names []string
	for name := range asc.Kinds() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var localizationsCmd = &cobra.Command{
	Use:   "localizations",
	Short: "Inspect existing localizations",
}

var localizationsListCmd = &cobra.Command{
	Use:   "list <kind> <parent-id>",
	Short: "List the localizations of a resource",
	Long: `List the localizations of a resource with the length of each field
against its App Store limit. Over-limit values are highlighted.

Kinds: ` + strings.Join(kindNames(), ", ") + `

The parent id is the App Store version, app info, in-app purchase,
subscription or subscription group id.`,
	Args: cobra.ExactArgs(2),
	RunE: withClient(func(cmd *cobra.Command, args []string, client *asc.Client) error {
		kind, err := lookupKind(args[0])
		if err != nil {
			return err
		}

		records, err := client.ListLocalizations(cmd.Context(), kind, args[1])
		if err != nil {
			return fmt.Errorf("failed to list localizations: %w", err)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Locale < records[j].Locale })

		limits := fieldLimits()
		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "LOCALE\tFIELD\tLENGTH\tVALUE")
		for _, r := range records {
			for _, name := range kind.Fields() {
				value := r.Fields[name]
				length := fmt.Sprintf("%d/%d", fields.Len(value), limits.Get(name))
				if max := limits.Get(name); max > 0 && fields.Len(value) > max {
					length = failureColor.Sprint(length)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Locale, name, length, snippet(value, 60))
			}
		}
		return w.Flush()
	}),
}

var localizationsCopyCmd = &cobra.Command{
	Use:   "copy <from-id> <to-id>",
	Short: "Copy localizations from one resource to another",
	Long: `Copy every localization of one resource to another of the same kind,
for example from the live App Store version to the one being prepared.
Nothing is translated; blank fields are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: withClient(func(cmd *cobra.Command, args []string, client *asc.Client) error {
		kind, err := lookupKind(copyKind)
		if err != nil {
			return err
		}
		var targets []locale.Locale
		if strings.TrimSpace(copyLocales) != "" {
			if targets, err = locale.ParseList(copyLocales); err != nil {
				return err
			}
		}

		var history workflow.History
		if cfg.DBPath != "" {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			history = db
		}

		action := "Copied"
		if copyDryRun {
			action = "Checked"
		}
		orch := orchestrator.New(orchestrator.Config{
			Concurrency: cfg.Concurrency,
			Pacing:      cfg.Pacing,
			Action:      action,
			Progress:    os.Stderr,
			Logger:      logger,
		})

		logger.Info().Str("kind", kind.Name).Str("from", args[0]).Str("to", args[1]).Msg("Copying localizations")
		report, err := workflow.NewCopier(client, client, orch, history, logger).Copy(cmd.Context(), workflow.CopyJob{
			Kind:    kind,
			From:    args[0],
			To:      args[1],
			Locales: targets,
			DryRun:  copyDryRun,
		})
		if err != nil {
			return err
		}

		printReport(cmd.OutOrStdout(), report, copyDryRun)
		if n := len(report.Errors); n > 0 {
			return fmt.Errorf("%d of %d locale(s) failed", n, len(report.Errors)+len(report.Results))
		}
		return nil
	}),
}

var localizationsExportCmd = &cobra.Command{
	Use:   "export <parent-id>",
	Short: "Export localizations as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, client *asc.Client) error {
		kind, err := lookupKind(exportKind)
		if err != nil {
			return err
		}
		snapshot, err := workflow.Snapshot(cmd.Context(), client, kind, args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		data = append(data, '\n')

		if exportPath == "" || exportPath == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		successColor.Fprintf(cmd.OutOrStdout(), "Exported %d localization(s) to %s", len(snapshot.Localizations), exportPath)
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(localizationsCmd)
	localizationsCmd.AddCommand(localizationsListCmd, localizationsCopyCmd, localizationsExportCmd)

	localizationsCopyCmd.Flags().StringVar(&copyKind, "kind", asc.VersionLocalizations.Name, "Localization kind: "+strings.Join(kindNames(), ", "))
	localizationsCopyCmd.Flags().StringVarP(&copyLocales, "locales", "l", "", "Locales to copy (comma-separated); default: all")
	localizationsCopyCmd.Flags().BoolVar(&copyDryRun, "dry-run", false, "Report what would be copied without publishing")

	localizationsExportCmd.Flags().StringVar(&exportKind, "kind", asc.VersionLocalizations.Name, "Localization kind: "+strings.Join(kindNames(), ", "))
	localizationsExportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Output file (default: stdout)")
}
