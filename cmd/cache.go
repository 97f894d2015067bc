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

	"github.com/spf13/cobra"

	"github.com/valpere/storetran/internal/store"
)

var (
	cacheLocale      string
	invalidateLocale string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the translation memory cache",
	Long:  `List, inspect, invalidate and clear the SQLite translation memory.`,
}

func withStore(fn func(cmd *cobra.Command, args []string, db *store.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(cmd, args, db)
	}
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List translation memory entries",
	RunE: withStore(func(cmd *cobra.Command, args []string, db *store.Store) error {
		entries, err := db.ListMemory(cmd.Context(), cacheLocale)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}

		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No entries in translation memory.")
			return nil
		}

		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tLOCALE\tFIELD\tPROVIDER\tUSED\tLAST USED\tINVALID\tTEXT")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%v\t%s\n",
				e.ID[:12], e.Locale, e.Field, e.Provider,
				e.UsageCount, e.LastUsed.Format("2006-01-02 15:04"),
				e.Invalidated, snippet(e.Translation, 40))
		}
		return w.Flush()
	}),
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show translation memory statistics",
	RunE: withStore(func(cmd *cobra.Command, args []string, db *store.Store) error {
		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Total entries:   %d\n", stats.TotalEntries)
		fmt.Fprintf(out, "Active entries:  %d\n", stats.ActiveEntries)
		fmt.Fprintf(out, "Invalid entries: %d\n", stats.InvalidEntries)
		fmt.Fprintf(out, "Total usage:     %d\n", stats.TotalUsage)
		fmt.Fprintf(out, "Recorded runs:   %d\n", stats.Runs)
		return nil
	}),
}

// resolveEntryID expands an id prefix as printed by "cache list".
func resolveEntryID(cmd *cobra.Command, db *store.Store, prefix string) (string, error) {
	entries, err := db.ListMemory(cmd.Context(), "")
	if err != nil {
		return "", err
	}
	var match string
	for _, e := range entries {
		if len(e.ID) >= len(prefix) && e.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("id prefix %s is ambiguous", prefix)
			}
			match = e.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, prefix)
	}
	return match, nil
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a translation memory entry by ID",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, db *store.Store) error {
		id, err := resolveEntryID(cmd, db, args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteMemory(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted entry: %s\n", id)
		return nil
	}),
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [id]",
	Short: "Stop serving an entry, or every entry of --locale",
	Args:  cobra.MaximumNArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, db *store.Store) error {
		if invalidateLocale != "" {
			n, err := db.InvalidateLocale(cmd.Context(), invalidateLocale)
			if err != nil {
				return fmt.Errorf("failed to invalidate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %d entries for %s.\n", n, invalidateLocale)
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("an entry id or --locale is required")
		}

		id, err := resolveEntryID(cmd, db, args[0])
		if err != nil {
			return err
		}
		if err := db.InvalidateMemory(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to invalidate entry: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Invalidated entry: %s\n", id)
		return nil
	}),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all entries from translation memory",
	RunE: withStore(func(cmd *cobra.Command, args []string, db *store.Store) error {
		n, err := db.ClearMemory(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries from translation memory.\n", n)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheListCmd.Flags().StringVar(&cacheLocale, "locale", "", "Only list entries for this locale")
	cacheInvalidateCmd.Flags().StringVar(&invalidateLocale, "locale", "", "Invalidate every entry for this locale")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
