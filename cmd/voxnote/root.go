package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dukerupert/voxnote/internal/config"
	"github.com/dukerupert/voxnote/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

// flag name -> config key
var boundFlags = map[string]string{
	"db":        "db_path",
	"api":       "api_base_url",
	"audio-dir": "audio_dir",
	"log-level": "log_level",
	"log-file":  "log_file",
}

var rootCmd = &cobra.Command{
	Use:   "voxnote",
	Short: "Local-first voice note client",
	Long: `voxnote captures audio recordings into a local cache, uploads them to the
voice note backend in batches, and mirrors processed notes and tasks back.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.New()
		for flag, key := range boundFlags {
			f := cmd.Flags().Lookup(flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", flag, err)
			}
		}

		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		logger = logging.Setup(cfg.LogLevel, cfg.LogFile)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./voxnote.yaml or ~/.config/voxnote/voxnote.yaml)")
	pf.String("db", "", "path to the local SQLite cache")
	pf.String("api", "", "base URL of the voice note backend")
	pf.String("audio-dir", "", "directory watched for new recordings")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-file", "", "also write logs to this file, rotated by size")
}
