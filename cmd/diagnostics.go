// file: cmd/diagnostics.go
// version: 2.1.0
// guid: 195b9f45-d19b-4e0f-bc0a-cb2eec130c7a

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jdfalk/video-autoprocessor/internal/backup"
	"github.com/jdfalk/video-autoprocessor/internal/catalog"
	"github.com/jdfalk/video-autoprocessor/internal/preflight"
)

var (
	diagnosticsCmd = &cobra.Command{
		Use:   "diagnostics",
		Short: "Debugging helpers",
		Long:  "Diagnostic utilities for inspecting the environment, the catalog and backups.",
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Verify ffmpeg, ffprobe and the output directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report := preflight.RunAll(cmd.Context(), cfg)
			out := cmd.OutOrStdout()
			for _, res := range report.Results {
				mark := "ok  "
				if !res.Passed {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "[%s] %-12s %s\n", mark, res.Name, res.Detail)
			}
			if report.FFmpegVersion != "" {
				fmt.Fprintf(out, "ffmpeg: %s\n", report.FFmpegVersion)
			}
			return report.Err()
		},
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Inspect catalog records",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			raw, _ := cmd.Flags().GetBool("raw")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := catalog.New(cfg.Catalog.Path, catalog.MergePolicy{}, zerolog.Nop())
			records, err := store.List()
			if errors.Is(err, catalog.ErrCorrupt) {
				return fmt.Errorf("%w; the next commit moves it to %s", err, store.BackupPath())
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d records\n", store.Path(), len(records))
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			if raw {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			for _, rec := range records {
				fmt.Fprintf(out, "  %-28s %-10s %s\n", rec.ID, rec.Duration, rec.Title)
			}
			return nil
		},
	}

	backupsCmd = &cobra.Command{
		Use:   "backups",
		Short: "List snapshots of the legacy output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Directories.LegacyOutput == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No legacy output directory configured; backups are disabled.")
				return nil
			}
			prefix := filepath.Base(filepath.Clean(cfg.Directories.LegacyOutput)) + "_backup_"
			backups, err := backup.ListBackups(cfg.Directories.Backup, prefix)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintf(out, "No backups in %s\n", cfg.Directories.Backup)
				return nil
			}
			for _, b := range backups {
				fmt.Fprintf(out, "%s  %s\n", b.CreatedAt.Format(time.DateTime), b.Path)
			}
			return nil
		},
	}
)

func init() {
	catalogCmd.Flags().Int("limit", 20, "Number of records to display (0 for all)")
	catalogCmd.Flags().Bool("raw", false, "Print the records as JSON")

	diagnosticsCmd.AddCommand(checkCmd)
	diagnosticsCmd.AddCommand(catalogCmd)
	diagnosticsCmd.AddCommand(backupsCmd)
}
