package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Edge Case Tests - scenarios that could cause silent failures or
// unexpected behavior.

// =============================================================================
// Config Merge Edge Cases
// =============================================================================

func TestLoad_ExternalDocsExcludePatterns_ReplaceDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `{
		"project_name": "demo",
		"external_docs": {"path": "../shared", "exclude_patterns": ["**/.custom_ignore/**"]}
	}`
	require.NoError(t, os.MkdirAll(filepath.Dir(ConfigPath(tmpDir)), 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(configContent), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	// Explicit exclude_patterns replace the default set rather than merge
	// with it - unlike the zero-value numeric fields below, an empty slice
	// and an absent field are indistinguishable, so "present but custom"
	// always wins outright.
	assert.Equal(t, []string{"**/.custom_ignore/**"}, cfg.ExternalDocs.ExcludePatterns)
}

func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	// Given: config with explicit zero values for numeric fields
	tmpDir := t.TempDir()
	configContent := `{
		"project_name": "demo",
		"retrieval": {"max_results": 0},
		"semantic_search": {"default_limit": 0}
	}`
	require.NoError(t, os.MkdirAll(filepath.Dir(ConfigPath(tmpDir)), 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(configContent), 0o644))

	cfg, err := Load(tmpDir)

	// Zero in the file is indistinguishable from "not set" under this
	// merge strategy, so defaults remain - this documents the "can't
	// set a numeric field to exactly zero" limitation.
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retrieval.MaxResults)
	assert.Equal(t, 10, cfg.SemanticSearch.DefaultLimit)
}

func TestLoad_NegativeValues_Validated(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `{"project_name": "demo", "retrieval": {"max_results": -10}}`
	require.NoError(t, os.MkdirAll(filepath.Dir(ConfigPath(tmpDir)), 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(configContent), 0o644))

	cfg, err := Load(tmpDir)
	require.Error(t, err)
	require.Nil(t, cfg)
	assert.Contains(t, err.Error(), "retrieval.max_results must be non-negative")
}

func TestValidate_AggregatesAllProblems(t *testing.T) {
	// Given: a config with several independent violations at once
	cfg := NewConfig()
	cfg.ProjectName = "has spaces"
	cfg.Retrieval.MinRelevanceScore = 1.5
	cfg.SemanticSearch.DefaultLimit = -1
	cfg.Embeddings.MaxConcurrent = 0

	err := cfg.Validate()

	// Then: every violation is reported in one error, not just the first
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_name")
	assert.Contains(t, err.Error(), "retrieval.min_relevance_score")
	assert.Contains(t, err.Error(), "semantic_search.default_limit")
	assert.Contains(t, err.Error(), "embeddings.max_concurrent")
}

func TestValidate_ProjectNameRegex_RejectsPathSeparators(t *testing.T) {
	cfg := NewConfig()
	cfg.ProjectName = "../escape"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_name")
}

func TestValidate_CustomDocTypes_DuplicateNameRejected(t *testing.T) {
	cfg := NewConfig()
	cfg.ProjectName = "demo"
	cfg.CustomDocTypes = []CustomDocType{
		{Name: "adr", Folder: "decisions", SchemaFile: "adr.json"},
		{Name: "adr", Folder: "other", SchemaFile: "adr2.json"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestValidate_ExternalDocsMissingPath_Rejected(t *testing.T) {
	cfg := NewConfig()
	cfg.ProjectName = "demo"
	cfg.ExternalDocs = &ExternalDocsConfig{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external_docs.path")
}

// =============================================================================
// Config File Permission Edge Cases
// =============================================================================

func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("Test requires non-root user")
	}

	tmpDir := t.TempDir()
	configPath := ConfigPath(tmpDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte(`{"project_name":"demo"}`), 0o000))
	defer func() { _ = os.Chmod(configPath, 0o644) }()

	cfg, err := Load(tmpDir)
	require.Error(t, err, "Load should fail for unreadable config file")
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read")
}

// =============================================================================
// Config JSON Marshaling Edge Cases
// =============================================================================

func TestConfig_JSON_RoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.ProjectName = "demo"
	cfg.Retrieval.MaxResults = 7
	cfg.SemanticSearch.DefaultLimit = 25
	cfg.Embeddings.Model = "static"

	data, err := jsonMarshal(cfg)
	require.NoError(t, err)

	var parsed Config
	err = jsonUnmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "demo", parsed.ProjectName)
	assert.Equal(t, 7, parsed.Retrieval.MaxResults)
	assert.Equal(t, 25, parsed.SemanticSearch.DefaultLimit)
	assert.Equal(t, "static", parsed.Embeddings.Model)
}

func TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError(t *testing.T) {
	invalidJSON := []byte("{invalid json")

	var cfg Config
	err := jsonUnmarshal(invalidJSON, &cfg)

	require.Error(t, err, "Unmarshal should fail for invalid JSON")
}
