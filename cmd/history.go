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
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/storetran/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded localization runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: withStore(func(cmd *cobra.Command, args []string, db *store.Store) error {
		runs, err := db.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tSTARTED\tKIND\tPARENT\tPROVIDER\tOK\tFAILED\tDRY RUN")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%v\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Kind, r.ParentID,
				r.Provider, r.Succeeded, r.Failed, r.DryRun)
		}
		return w.Flush()
	}),
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-locale results of a run",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, db *store.Store) error {
		run, results, err := db.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		seed := "none"
		if run.Seed != nil {
			seed = strconv.FormatInt(*run.Seed, 10)
		}
		headerColor.Fprintf(out, "Run %s", run.ID)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Kind:     %s %s\n", run.Kind, run.ParentID)
		fmt.Fprintf(out, "Provider: %s (%s)\n", run.Provider, run.Model)
		fmt.Fprintf(out, "Seed:     %s\n", seed)
		fmt.Fprintf(out, "Duration: %s\n\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

		for _, r := range results {
			if !r.Success {
				failureColor.Fprintf(out, "✗ %s", r.Locale)
				fmt.Fprintf(out, " %s\n", r.Error)
				continue
			}
			successColor.Fprintf(out, "✓ %s", r.Locale)
			fmt.Fprintln(out)
			names := make([]string, 0, len(r.Fields))
			for name := range r.Fields {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "    %-18s %s\n", name+":", snippet(r.Fields[name], 70))
			}
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 = all)")
	historyCmd.AddCommand(historyListCmd, historyShowCmd)
}
