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

	"github.com/valpere/storetran/internal/locale"
)

var localesCmd = &cobra.Command{
	Use:   "locales",
	Short: "List supported App Store locales",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "CODE\tLANGUAGE")
		for _, l := range locale.Supported() {
			fmt.Fprintf(w, "%s\t%s\n", l.Code, l.Name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(localesCmd)
}
