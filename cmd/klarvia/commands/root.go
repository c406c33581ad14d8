// Package commands implements the CLI commands for klarvia.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/klarvia/internal/config"
	"github.com/jmylchreest/klarvia/internal/logger"
	"github.com/jmylchreest/klarvia/pkg/backend/advanced"
	"github.com/jmylchreest/klarvia/pkg/backend/classic"
	"github.com/jmylchreest/klarvia/pkg/backend/generic"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

var rootCmd = &cobra.Command{
	Use:   "klarvia",
	Short: "Supportive text-reply service with graceful model fallback",
	Long: `Klarvia answers short chat messages.

On first use it picks the best available reply strategy (a fine-tuned
adapter on a local Ollama runtime, a generic completions model, or a
classic text classifier) and falls back to a rule-based responder when
none of them can be loaded. Generation failures never surface to the
caller; the rule-based reply is returned instead.

Examples:
  # Serve the HTTP API on 127.0.0.1:8001
  klarvia serve

  # One-off reply using whatever backend resolves
  klarvia reply "hi there"

  # Force the classic classifier and inspect the outcome
  MODEL_IMPL=sklearn SKLEARN_MODEL_PATH=./model.json klarvia probe`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{
			Debug: viper.GetBool("debug"),
			Quiet: viper.GetBool("quiet"),
			JSON:  viper.GetBool("log_json"),
		})
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.klarvia.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".klarvia")
		viper.SetConfigType("yaml")
	}

	config.Bind(viper.GetViper())

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newResolver wires every backend probe to the global configuration.
func newResolver() *reply.Resolver {
	return reply.NewResolver(
		config.Loader(viper.GetViper()),
		classic.NewProbe(),
		advanced.NewProbe(),
		generic.NewProbe(),
	)
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
