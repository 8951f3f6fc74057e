// file: cmd/root.go
// version: 2.0.0
// guid: b0a63ea4-40f9-4683-8c20-96e124bd6633

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdfalk/video-autoprocessor/internal/config"
	"github.com/jdfalk/video-autoprocessor/internal/logging"
	"github.com/jdfalk/video-autoprocessor/internal/processor"
	"github.com/jdfalk/video-autoprocessor/internal/server"
)

// Version is reported by the status API and the version command.
var Version = "1.0.0"

var (
	cfgFile    string
	watchDir   string
	logLevel   string
	logFormat  string
	statusAddr string

	v *viper.Viper
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "video-autoprocessor",
	Short: "Watch a folder and publish new videos as HLS streams",
	Long: `Video Autoprocessor watches a directory for new video files, transcodes
each one into an HLS stream with a thumbnail, and merges a record for it into
a JSON catalog without clobbering hand-edited fields.`,
	SilenceUsage: true,
}

// runCmd starts the long-running daemon.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the input directory and process new videos",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closer.Close()

		comps, err := processor.FromConfig(cfg, true, logger)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if cfg.System.StatusAddr != "" {
			srv := server.NewServer(comps.Processor, comps.Catalog, cancel, Version, logger)
			srv.EnableEvents(comps.Events)
			if err := srv.Start(server.DefaultServerConfig(cfg.System.StatusAddr)); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("status server shutdown failed")
				}
			}()
		}

		return comps.Processor.Run(ctx)
	},
}

// scanCmd processes the files already present and exits.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Process every unprocessed video in the input directory once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closer.Close()

		comps, err := processor.FromConfig(cfg, false, logger)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := comps.Processor.Check(ctx); err != nil {
			return err
		}
		admitted, err := comps.Processor.ScanExisting(ctx, true)
		stats := comps.Processor.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "Scanned %s: %d processed, %d failed, %d up to date\n",
			cfg.Directories.Watch, stats.Succeeded, stats.Failed, stats.Skipped)
		if err != nil {
			return err
		}
		if stats.Failed > 0 {
			return fmt.Errorf("%d of %d videos failed", stats.Failed, admitted)
		}
		return nil
	},
}

// testCmd runs the pipeline for a single file in the foreground.
var testCmd = &cobra.Command{
	Use:   "test <file>",
	Short: "Process a single video file and report the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closer.Close()

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("cannot read %s: %w", args[0], err)
		}

		comps, err := processor.FromConfig(cfg, false, logger)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := comps.Processor.Check(ctx); err != nil {
			return err
		}

		bar := progressbar.NewOptions(100,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription(filepath.Base(path)),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		res, err := comps.Processor.ProcessFile(ctx, path, func(percent float64) {
			_ = bar.Set(int(percent))
		})
		_ = bar.Finish()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Video ID:   %s\n", res.VideoID)
		fmt.Fprintf(out, "Playlist:   %s (%d segments)\n", res.Stream.Playlist, res.Stream.Segments)
		fmt.Fprintf(out, "Thumbnail:  %s\n", res.Thumbnail.Path)
		fmt.Fprintf(out, "Catalog:    %s (%s)\n", comps.Catalog.Path(), res.Outcome)
		fmt.Fprintf(out, "Elapsed:    %s\n", res.Elapsed.Round(time.Millisecond))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.video-autoprocessor.yaml)")
	rootCmd.PersistentFlags().StringVar(&watchDir, "watch", "", "directory to watch for new videos")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().StringVar(&statusAddr, "addr", "", "status API listen address (empty string disables it for run)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	v = config.NewViper(cfgFile, home)

	flags := rootCmd.PersistentFlags()
	_ = v.BindPFlag("directories.watch", flags.Lookup("watch"))
	_ = v.BindPFlag("system.log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("system.log_format", flags.Lookup("log-format"))
	_ = v.BindPFlag("system.status_addr", flags.Lookup("addr"))

	if err := config.ReadInConfig(v, cfgFile != ""); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration from the shared viper
// instance.
func loadConfig() (*config.Config, error) {
	if v == nil {
		return nil, errors.New("configuration not initialized")
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setup loads the configuration and builds the process logger.
func setup(stderr io.Writer) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.System.LogLevel,
		Format: cfg.System.LogFormat,
		Dir:    cfg.Directories.Logs,
		Stderr: stderr,
	})
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, logger, closer, nil
}
