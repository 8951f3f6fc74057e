// file: internal/backup/backup.go
// version: 2.0.0
// guid: 2b8e4be0-0bf9-43eb-844c-b6cf3150d267

// Package backup snapshots the legacy output directory before it is
// overwritten.
package backup

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TimestampFormat is appended to every backup directory name.
const TimestampFormat = "20060102_150405"

// DefaultMaxBackups is the retention count when none is configured.
const DefaultMaxBackups = 10

// BackupInfo describes one snapshot directory.
type BackupInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Files     int       `json:"files"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupConfig holds backup configuration
type BackupConfig struct {
	BackupDir  string
	MaxBackups int
}

// Manager copies a source tree into timestamped snapshot directories.
type Manager struct {
	config BackupConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(config BackupConfig, logger zerolog.Logger) *Manager {
	if config.MaxBackups <= 0 {
		config.MaxBackups = DefaultMaxBackups
	}
	return &Manager{
		config: config,
		logger: logger.With().Str("component", "backup").Logger(),
		now:    time.Now,
	}
}

// Snapshot copies src to <backup>/<base>_backup_YYYYMMDD_HHMMSS. A missing
// src is not an error and returns nil info. Old snapshots beyond the
// retention count are pruned.
func (m *Manager) Snapshot(src string) (*BackupInfo, error) {
	if src == "" {
		return nil, nil
	}
	st, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat backup source: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("backup source %s is not a directory", src)
	}
	if err := os.MkdirAll(m.config.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	prefix := filepath.Base(filepath.Clean(src)) + "_backup_"
	created := m.now()
	name := prefix + created.Format(TimestampFormat)
	dst := filepath.Join(m.config.BackupDir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s%s_%d", prefix, created.Format(TimestampFormat), i)
		dst = filepath.Join(m.config.BackupDir, name)
	}

	files, size, err := copyTree(src, dst)
	if err != nil {
		_ = os.RemoveAll(dst)
		return nil, fmt.Errorf("failed to copy %s: %w", src, err)
	}

	info := &BackupInfo{Name: name, Path: dst, Files: files, Size: size, CreatedAt: created}
	m.logger.Info().Str("source", src).Str("backup", dst).Int("files", files).Int64("bytes", size).Msg("backup created")

	if err := m.cleanupOldBackups(prefix); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clean up old backups")
	}
	return info, nil
}

// ListBackups returns snapshots whose name starts with prefix, oldest first.
func ListBackups(backupDir, prefix string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		created := fi.ModTime()
		stamp := strings.TrimPrefix(entry.Name(), prefix)
		if len(stamp) >= len(TimestampFormat) {
			if t, err := time.ParseInLocation(TimestampFormat, stamp[:len(TimestampFormat)], time.Local); err == nil {
				created = t
			}
		}
		backups = append(backups, BackupInfo{
			Name:      entry.Name(),
			Path:      filepath.Join(backupDir, entry.Name()),
			CreatedAt: created,
		})
	}
	sort.SliceStable(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].Name < backups[j].Name
		}
		return backups[i].CreatedAt.Before(backups[j].CreatedAt)
	})
	return backups, nil
}

// cleanupOldBackups removes old backups exceeding the maximum count
func (m *Manager) cleanupOldBackups(prefix string) error {
	backups, err := ListBackups(m.config.BackupDir, prefix)
	if err != nil {
		return err
	}
	if len(backups) <= m.config.MaxBackups {
		return nil
	}
	for _, b := range backups[:len(backups)-m.config.MaxBackups] {
		if err := os.RemoveAll(b.Path); err != nil {
			m.logger.Warn().Err(err).Str("backup", b.Path).Msg("failed to delete old backup")
			continue
		}
		m.logger.Debug().Str("backup", b.Path).Msg("pruned old backup")
	}
	return nil
}

func copyTree(src, dst string) (int, int64, error) {
	var files int
	var total int64
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		n, err := copyFile(path, target)
		if err != nil {
			return err
		}
		files++
		total += n
		return nil
	})
	return files, total, err
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, st.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return n, err
	}
	if err := out.Close(); err != nil {
		return n, err
	}
	return n, os.Chtimes(dst, st.ModTime(), st.ModTime())
}
