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
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/valpere/storetran/internal/config"
	"github.com/valpere/storetran/internal/logging"
)

var version = "0.1.0"

var (
	configPath  string
	envPath     string
	providerArg string
	concurrency int
	logLevel    string

	cfg    *config.Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "storetran",
	Short: "Localize App Store Connect metadata with LLM providers",
	Long: `A CLI application that translates App Store metadata into every App Store
locale using an LLM provider and publishes the results through the
App Store Connect API.

Supported providers: Anthropic, OpenAI, Gemini

Use "storetran translate --help" for localization options.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.LoadEnvFile(envPath); err != nil {
			return err
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("provider") {
			loaded.DefaultProvider = providerArg
		}
		if flags.Changed("concurrency") {
			loaded.Concurrency = concurrency
		}
		if flags.Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, err = logging.New(loaded.Environment, loaded.LogLevel)
		if err != nil {
			return err
		}
		if loaded.File != "" {
			logger.Debug().Str("file", loaded.File).Msg("Loaded configuration")
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default $HOME/.config/storetran/config.yaml or ./storetran.yaml)")
	flags.StringVar(&envPath, "env", "", "Path to a .env file (default ./.env when present)")
	flags.StringVarP(&providerArg, "provider", "p", "", "Translation provider: anthropic, openai, gemini")
	flags.IntVarP(&concurrency, "concurrency", "c", 0, "Locales processed in parallel (0 = number of CPUs)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}
