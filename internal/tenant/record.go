package tenant

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aman-cerp/amandocs/pkg/version"
)

// recordFileName is the activation marker's file name within a
// tenant's hidden data directory.
const recordFileName = "activation.json"

// Record is the on-disk marker of the most recent successful
// activation for a tenant's data directory: enough for a `status` CLI
// invocation, or a crash-recovered process, to report what was active
// without holding the in-memory Registry that produced it.
type Record struct {
	Project      string    `json:"project"`
	Branch       string    `json:"branch"`
	AbsolutePath string    `json:"absolute_path"`
	PathHash     string    `json:"path_hash"`
	ActivatedAt  time.Time `json:"activated_at"`
	Version      string    `json:"version"`
}

// NewRecord builds a Record for an activated Context.
func NewRecord(tc Context) *Record {
	return &Record{
		Project:      tc.Project,
		Branch:       tc.Branch,
		AbsolutePath: tc.RootPath,
		PathHash:     tc.PathHash,
		ActivatedAt:  time.Now(),
		Version:      version.Version,
	}
}

// SaveRecord persists rec to dataDir via a temp-file-then-rename write,
// so a reader never observes a half-written file.
func SaveRecord(dataDir string, rec *Record) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create tenant data directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal activation record: %w", err)
	}

	recordPath := filepath.Join(dataDir, recordFileName)
	tmpPath := recordPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write activation record: %w", err)
	}
	if err := os.Rename(tmpPath, recordPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save activation record: %w", err)
	}
	return nil
}

// LoadRecord reads the activation marker from dataDir. Returns nil,
// nil if the tenant has never been activated (no marker on disk).
func LoadRecord(dataDir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, recordFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read activation record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse activation record: %w", err)
	}
	return &rec, nil
}
