// file: cmd/control.go
// version: 1.0.0
// guid: 8836df75-5121-418c-aec7-35e987fd4f3b

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdfalk/video-autoprocessor/internal/config"
	"github.com/jdfalk/video-autoprocessor/internal/server"
)

const controlTimeout = 10 * time.Second

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			client, err := controlClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()

			resp, err := client.Status(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printStatus(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to drain and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()

			msg, err := client.Stop(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file populated with the defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			path := cfgFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("cannot resolve home directory: %w", err)
				}
				path = config.DefaultConfigFile(home)
			}
			if err := config.WriteSample(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filepath.Clean(path))
			return nil
		},
	}
)

func init() {
	statusCmd.Flags().Bool("json", false, "Print the raw status document")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}

func controlClient() (*server.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.System.StatusAddr == "" {
		return nil, errors.New("status API disabled: set system.status_addr or pass --addr")
	}
	return server.NewClient(cfg.System.StatusAddr), nil
}

func printStatus(w io.Writer, resp *server.StatusResponse) {
	st := resp.Status
	state := "stopped"
	if st.Running {
		state = "running"
	}
	watcher := "down"
	if st.WatcherAlive {
		watcher = "alive"
	}
	fmt.Fprintf(w, "Daemon:      %s (version %s, up %s)\n", state, resp.Version, st.Stats.Uptime)
	fmt.Fprintf(w, "Watching:    %s (watcher %s)\n", st.WatchDir, watcher)
	fmt.Fprintf(w, "Queue:       %d pending, %d/%d slots in use\n", st.Pending, st.Outstanding, st.Limit)
	fmt.Fprintf(w, "Processed:   %d ok, %d failed, %d skipped (%.1f%% success, avg %.1fs)\n",
		st.Stats.Succeeded, st.Stats.Failed, st.Stats.Skipped, st.Stats.SuccessRate, st.Stats.AverageSeconds)
	if st.Stats.LastProcessedAt != nil {
		fmt.Fprintf(w, "Last done:   %s\n", st.Stats.LastProcessedAt.Local().Format(time.DateTime))
	}
	for _, run := range st.Runs {
		fmt.Fprintf(w, "  active %s  %s  since %s\n", run.VideoID, run.Path, run.StartedAt.Local().Format(time.TimeOnly))
	}
	if st.HasHealthData {
		h := st.LastHealth
		if h.Memory != nil {
			fmt.Fprintf(w, "Memory:      %.1f%% used\n", h.Memory.UsedPercent)
		}
		if h.Disk != nil {
			fmt.Fprintf(w, "Disk:        %.1f%% used on %s\n", h.Disk.UsedPercent, h.Disk.Path)
		}
		for _, warning := range h.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warning)
		}
	}
}
