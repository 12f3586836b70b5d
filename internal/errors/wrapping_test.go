package errors_test

import (
	"os"
	"strings"
	"testing"

	"github.com/aman-cerp/amandocs/internal/preflight"
	"github.com/aman-cerp/amandocs/internal/tenant"
)

func writeFileForTest(t *testing.T, path string) error {
	t.Helper()
	return os.WriteFile(path, []byte("not a directory"), 0o644)
}

// TestErrorWrapping_Preflight verifies preflight errors are wrapped with context.
func TestErrorWrapping_Preflight(t *testing.T) {
	// MarkPassed should wrap os.MkdirAll errors
	err := preflight.MarkPassed("/nonexistent/deeply/nested/path/that/cannot/exist")
	if err == nil {
		t.Skip("Expected error creating marker in nonexistent path")
	}

	// Error should contain context about what operation failed
	errMsg := err.Error()
	if !strings.Contains(errMsg, "create") && !strings.Contains(errMsg, "marker") && !strings.Contains(errMsg, "directory") {
		t.Errorf("Error should contain context about creating marker directory, got: %s", errMsg)
	}
}

// TestErrorWrapping_Record verifies activation record errors are wrapped with context.
func TestErrorWrapping_Record(t *testing.T) {
	// LoadRecord should wrap read errors with context, not bubble up a bare os.PathError.
	_, err := tenant.LoadRecord("/nonexistent/deeply/nested/data/dir")
	if err != nil {
		t.Errorf("LoadRecord should return nil, nil for a directory with no activation marker yet, got error: %v", err)
	}

	// SaveRecord should wrap mkdir errors with context when the data
	// directory cannot be created (e.g. a path through a regular file).
	badParent := t.TempDir() + "/not-a-directory"
	if err := writeFileForTest(t, badParent); err != nil {
		t.Fatalf("setup: %v", err)
	}
	err = tenant.SaveRecord(badParent+"/child", tenant.NewRecord(tenant.New("widget-service", "main", "/repo")))
	if err == nil {
		t.Skip("expected error creating data directory under a file")
	}
	errMsg := err.Error()
	if !strings.Contains(errMsg, "create") && !strings.Contains(errMsg, "directory") {
		t.Errorf("Error should mention directory creation, got: %s", errMsg)
	}
}
