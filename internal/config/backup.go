package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the maximum number of config backups to keep.
	MaxBackups = 3

	// BackupSuffix is the file extension for backup files.
	BackupSuffix = ".bak"
)

// BackupProjectConfig creates a timestamped backup of repoRoot's
// project config file. Returns the backup file path on success. If no
// project config exists yet, returns empty string and nil error.
func BackupProjectConfig(repoRoot string) (string, error) {
	configPath := ConfigPath(repoRoot)
	if !fileExists(configPath) {
		return "", nil
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s%s.%s", configPath, BackupSuffix, timestamp)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	if err := cleanupOldBackups(repoRoot); err != nil {
		// Best-effort: the backup itself already succeeded.
		_ = err
	}

	return backupPath, nil
}

// ListProjectConfigBackups returns all backup files for repoRoot's
// project config, sorted by modification time (newest first).
func ListProjectConfigBackups(repoRoot string) ([]string, error) {
	configPath := ConfigPath(repoRoot)
	configDir := filepath.Dir(configPath)
	configBase := filepath.Base(configPath)

	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	var backups []string
	prefix := configBase + BackupSuffix + "."
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(configDir, entry.Name()))
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		infoI, _ := os.Stat(backups[i])
		infoJ, _ := os.Stat(backups[j])
		if infoI == nil || infoJ == nil {
			return false
		}
		return infoI.ModTime().After(infoJ.ModTime())
	})

	return backups, nil
}

// cleanupOldBackups removes backups beyond MaxBackups, keeping the newest.
func cleanupOldBackups(repoRoot string) error {
	backups, err := ListProjectConfigBackups(repoRoot)
	if err != nil {
		return err
	}

	if len(backups) <= MaxBackups {
		return nil
	}

	for _, backup := range backups[MaxBackups:] {
		if err := os.Remove(backup); err != nil {
			continue
		}
	}

	return nil
}

// RestoreProjectConfig restores repoRoot's project config from a
// backup file. The current config (if any) is itself backed up before
// the restore, so a bad restore is always recoverable.
func RestoreProjectConfig(repoRoot, backupPath string) error {
	configPath := ConfigPath(repoRoot)

	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}

	if fileExists(configPath) {
		if _, err := BackupProjectConfig(repoRoot); err != nil {
			return fmt.Errorf("failed to backup current config before restore: %w", err)
		}
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write restored config: %w", err)
	}

	return nil
}
