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
	"io"

	"github.com/spf13/cobra"

	"github.com/valpere/storetran/internal/asc"
)

var (
	pageLimit        int
	pageCursor       string
	versionsPlatform string
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Browse apps and their localizable resources",
}

func printNext(w io.Writer, next string) {
	if next != "" {
		fmt.Fprintf(w, "\nMore results: --cursor %s\n", next)
	}
}

func withClient(fn func(cmd *cobra.Command, args []string, client *asc.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newASCClient()
		if err != nil {
			return err
		}
		return fn(cmd, args, client)
	}
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List apps",
	RunE: withClient(func(cmd *cobra.Command, args []string, client *asc.Client) error {
		page, err := client.ListApps(cmd.Context(), pageLimit, pageCursor)
		if err != nil {
			return fmt.Errorf("failed to list apps: %w", err)
		}

		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tNAME\tBUNDLE ID\tPRIMARY LOCALE")
		for _, a := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.BundleID, a.PrimaryLocale)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		printNext(cmd.OutOrStdout(), page.NextCursor)
		return nil
	}),
}

var appsVersionsCmd = &cobra.Command{
	Use:   "versions <app-id>",
	Short: "List App Store versions of an app",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, client *asc.Client) error {
		page, err := client.ListAppStoreVersions(cmd.Context(), args[0], versionsPlatform, pageLimit, pageCursor)
		if err != nil {
			return fmt.Errorf("failed to list versions: %w", err)
		}

		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tVERSION\tPLATFORM\tSTATE")
		for _, v := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.VersionString, v.Platform, v.AppStoreState)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		printNext(cmd.OutOrStdout(), page.NextCursor)
		return nil
	}),
}

var appsIAPCmd = &cobra.Command{
	Use:   "iaps <app-id>",
	Short: "List in-app purchases of an app",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, client *asc.Client) error {
		page, err := client.ListInAppPurchases(cmd.Context(), args[0], pageLimit, pageCursor)
		if err != nil {
			return fmt.Errorf("failed to list in-app purchases: %w", err)
		}

		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tNAME\tPRODUCT ID\tTYPE\tSTATE")
		for _, p := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.ProductID, p.InAppPurchaseType, p.State)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		printNext(cmd.OutOrStdout(), page.NextCursor)
		return nil
	}),
}

var appsGroupsCmd = &cobra.Command{
	Use:   "subscription-groups <app-id>",
	Short: "List subscription groups of an app",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, client *asc.Client) error {
		page, err := client.ListSubscriptionGroups(cmd.Context(), args[0], pageLimit, pageCursor)
		if err != nil {
			return fmt.Errorf("failed to list subscription groups: %w", err)
		}

		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tREFERENCE NAME")
		for _, g := range page.Items {
			fmt.Fprintf(w, "%s\t%s\n", g.ID, g.ReferenceName)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		printNext(cmd.OutOrStdout(), page.NextCursor)
		return nil
	}),
}

var appsSubscriptionsCmd = &cobra.Command{
	Use:   "subscriptions <group-id>",
	Short: "List subscriptions of a subscription group",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, args []string, client *asc.Client) error {
		page, err := client.ListSubscriptions(cmd.Context(), args[0], pageLimit, pageCursor)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}

		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tNAME\tPRODUCT ID\tSTATE")
		for _, s := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.ProductID, s.State)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		printNext(cmd.OutOrStdout(), page.NextCursor)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(appsCmd)

	appsCmd.PersistentFlags().IntVar(&pageLimit, "limit", 50, "Page size (1-200)")
	appsCmd.PersistentFlags().StringVar(&pageCursor, "cursor", "", "Cursor from a previous page")
	appsVersionsCmd.Flags().StringVar(&versionsPlatform, "platform", "", "Only this platform (IOS, MAC_OS, TV_OS, VISION_OS)")

	appsCmd.AddCommand(appsListCmd, appsVersionsCmd, appsIAPCmd, appsGroupsCmd, appsSubscriptionsCmd)
}
