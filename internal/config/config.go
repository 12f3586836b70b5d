// Package config loads and hot-reloads per-project configuration for
// amandocs. A project's configuration lives at
// ./.csharp-compounding-docs/config.json (snake_case JSON) and is
// layered over built-in defaults, with environment variables taking
// highest precedence:
//
//  1. Hardcoded defaults
//  2. Project config file (.csharp-compounding-docs/config.json)
//  3. Environment variables (AMANDOCS_*)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// projectNamePattern constrains project_name: a lowercase letter, then
// lowercase letters, digits and dashes — no path separators or
// whitespace, since it is folded into on-disk store paths.
var projectNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ConfigFileName is the file, relative to a project's hidden data
// directory, that holds project configuration.
const ConfigFileName = "config.json"

// DataDirName is the hidden per-repository directory holding project
// config and store partitions, following internal/async/indexer.go's
// DataDir convention.
const DataDirName = ".csharp-compounding-docs"

// DocsDirName is the directory, relative to the repository root, that
// holds authored markdown documents and doc-type schemas.
const DocsDirName = "csharp-compounding-docs"

// Config is a project's resolved configuration: built-in defaults
// overridden by the project config file, then by environment
// variables. Safe to read concurrently once obtained from Load; use
// Reloader for a live, hot-reloading view.
type Config struct {
	ProjectName string `yaml:"project_name" json:"project_name"`

	Retrieval      RetrievalConfig      `yaml:"retrieval" json:"retrieval"`
	SemanticSearch SemanticSearchConfig `yaml:"semantic_search" json:"semantic_search"`
	LinkResolution LinkResolutionConfig `yaml:"link_resolution" json:"link_resolution"`

	ExternalDocs *ExternalDocsConfig `yaml:"external_docs,omitempty" json:"external_docs,omitempty"`

	CustomDocTypes []CustomDocType `yaml:"custom_doc_types,omitempty" json:"custom_doc_types,omitempty"`

	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// RetrievalConfig tunes the RAG query path (internal/retrieval).
type RetrievalConfig struct {
	MinRelevanceScore float64 `yaml:"min_relevance_score" json:"min_relevance_score"`
	MaxResults        int     `yaml:"max_results" json:"max_results"`
	MaxLinkedDocs     int     `yaml:"max_linked_docs" json:"max_linked_docs"`
}

// SemanticSearchConfig tunes the semantic_search tool's defaults.
type SemanticSearchConfig struct {
	MinRelevanceScore float64 `yaml:"min_relevance_score" json:"min_relevance_score"`
	DefaultLimit      int     `yaml:"default_limit" json:"default_limit"`
}

// LinkResolutionConfig bounds RAG query link traversal (§4.8 step 5).
type LinkResolutionConfig struct {
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
}

// ExternalDocsConfig, when present, enables indexing of a second,
// separately-partitioned document collection (store.CollectionExternal)
// outside the project's own csharp-compounding-docs/ tree.
type ExternalDocsConfig struct {
	Path            string   `yaml:"path" json:"path"`
	IncludePatterns []string `yaml:"include_patterns,omitempty" json:"include_patterns,omitempty"`
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty" json:"exclude_patterns,omitempty"`
}

// CustomDocType registers a project-specific document type: its own
// folder under csharp-compounding-docs/ and its own JSON Schema file
// under csharp-compounding-docs/schemas/, validated by
// internal/schema.Validator.
type CustomDocType struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Folder      string `yaml:"folder" json:"folder"`
	SchemaFile  string `yaml:"schema_file" json:"schema_file"`
}

// EmbeddingsConfig configures the embedding sidecar client
// (internal/embed).
type EmbeddingsConfig struct {
	Model          string `yaml:"model" json:"model"`
	Dimensions     int    `yaml:"dimensions" json:"dimensions"`
	MaxConcurrent  int    `yaml:"max_concurrent" json:"max_concurrent"`
	AcquireTimeout string `yaml:"acquire_timeout" json:"acquire_timeout"`
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	// NativeEndpoint is used on macOS-arm64 (internal/platform.DefaultBackend).
	NativeEndpoint string `yaml:"native_endpoint" json:"native_endpoint"`
	// ContainerEndpoint is used everywhere else.
	ContainerEndpoint string `yaml:"container_endpoint" json:"container_endpoint"`
}

// PerformanceConfig configures watcher/reconciliation/queue tuning.
type PerformanceConfig struct {
	WatcherConcurrency int    `yaml:"watcher_concurrency" json:"watcher_concurrency"`
	WatchDebounce      string `yaml:"watch_debounce" json:"watch_debounce"`
	DeferredQueueSize  int    `yaml:"deferred_queue_size" json:"deferred_queue_size"`
}

// ServerConfig configures the Tool Dispatcher (internal/dispatch).
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// defaultExcludePatterns apply to external_docs scanning in addition
// to gitignore rules.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
}

// NewConfig returns a Config populated with built-in defaults. Callers
// still must set ProjectName before the config is usable; Load does
// this from the config file or fails with a validation error if
// neither the file nor an override supplies one.
func NewConfig() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			MinRelevanceScore: 0.7,
			MaxResults:        3,
			MaxLinkedDocs:     10,
		},
		SemanticSearch: SemanticSearchConfig{
			MinRelevanceScore: 0.5,
			DefaultLimit:      10,
		},
		LinkResolution: LinkResolutionConfig{
			MaxDepth: 1,
		},
		Embeddings: EmbeddingsConfig{
			Model:             "nomic-embed-text",
			Dimensions:        0, // 0 = detect from first embedding response, then enforced.
			MaxConcurrent:     2,
			AcquireTimeout:    "60s",
			RequestTimeout:    "5m",
			NativeEndpoint:    "http://localhost:9659",
			ContainerEndpoint: "http://localhost:11434",
		},
		Performance: PerformanceConfig{
			WatcherConcurrency: 4,
			WatchDebounce:      "500ms",
			DeferredQueueSize:  1000,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// ProjectDataDir returns the hidden per-repository data directory
// (config file, store partitions) for repoRoot.
func ProjectDataDir(repoRoot string) string {
	return filepath.Join(repoRoot, DataDirName)
}

// ConfigPath returns the project config file path for repoRoot.
func ConfigPath(repoRoot string) string {
	return filepath.Join(ProjectDataDir(repoRoot), ConfigFileName)
}

// DocsDir returns the authored-markdown directory for repoRoot.
func DocsDir(repoRoot string) string {
	return filepath.Join(repoRoot, DocsDirName)
}

// SchemasDir returns the doc-type schema directory for repoRoot.
func SchemasDir(repoRoot string) string {
	return filepath.Join(DocsDir(repoRoot), "schemas")
}

// StorePartitionDir returns the store partition directory for one
// tenant's path_hash, following internal/async/indexer.go's DataDir/
// indexing.lock convention (see SPEC_FULL.md §6.3 addendum).
func StorePartitionDir(repoRoot, pathHash string) string {
	return filepath.Join(ProjectDataDir(repoRoot), "store", pathHash)
}

// Load reads repoRoot's project config file (if present), applies
// defaults and environment variable overrides, and validates the
// result. A missing config file is not an error: defaults apply, but
// Validate will still fail if AMANDOCS_PROJECT_NAME is not set to
// supply the otherwise-required project_name.
func Load(repoRoot string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(ConfigPath(repoRoot)); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile merges the JSON config file at path into c, if it
// exists. YAML is accepted transparently too (JSON is a YAML subset),
// matching the teacher's dual yaml.v3-parses-json convenience.
func (c *Config) loadFromFile(path string) error {
	if !fileExists(path) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero-valued fields from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.ProjectName != "" {
		c.ProjectName = other.ProjectName
	}

	if other.Retrieval.MinRelevanceScore != 0 {
		c.Retrieval.MinRelevanceScore = other.Retrieval.MinRelevanceScore
	}
	if other.Retrieval.MaxResults != 0 {
		c.Retrieval.MaxResults = other.Retrieval.MaxResults
	}
	if other.Retrieval.MaxLinkedDocs != 0 {
		c.Retrieval.MaxLinkedDocs = other.Retrieval.MaxLinkedDocs
	}

	if other.SemanticSearch.MinRelevanceScore != 0 {
		c.SemanticSearch.MinRelevanceScore = other.SemanticSearch.MinRelevanceScore
	}
	if other.SemanticSearch.DefaultLimit != 0 {
		c.SemanticSearch.DefaultLimit = other.SemanticSearch.DefaultLimit
	}

	if other.LinkResolution.MaxDepth != 0 {
		c.LinkResolution.MaxDepth = other.LinkResolution.MaxDepth
	}

	if other.ExternalDocs != nil {
		ext := *other.ExternalDocs
		if len(ext.ExcludePatterns) == 0 {
			ext.ExcludePatterns = defaultExcludePatterns
		}
		c.ExternalDocs = &ext
	}

	if len(other.CustomDocTypes) > 0 {
		c.CustomDocTypes = other.CustomDocTypes
	}

	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.MaxConcurrent != 0 {
		c.Embeddings.MaxConcurrent = other.Embeddings.MaxConcurrent
	}
	if other.Embeddings.AcquireTimeout != "" {
		c.Embeddings.AcquireTimeout = other.Embeddings.AcquireTimeout
	}
	if other.Embeddings.RequestTimeout != "" {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}
	if other.Embeddings.NativeEndpoint != "" {
		c.Embeddings.NativeEndpoint = other.Embeddings.NativeEndpoint
	}
	if other.Embeddings.ContainerEndpoint != "" {
		c.Embeddings.ContainerEndpoint = other.Embeddings.ContainerEndpoint
	}

	if other.Performance.WatcherConcurrency != 0 {
		c.Performance.WatcherConcurrency = other.Performance.WatcherConcurrency
	}
	if other.Performance.WatchDebounce != "" {
		c.Performance.WatchDebounce = other.Performance.WatchDebounce
	}
	if other.Performance.DeferredQueueSize != 0 {
		c.Performance.DeferredQueueSize = other.Performance.DeferredQueueSize
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies AMANDOCS_* environment variable overrides,
// highest precedence in the layering order.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANDOCS_PROJECT_NAME"); v != "" {
		c.ProjectName = v
	}
	if v := os.Getenv("AMANDOCS_RETRIEVAL_MIN_RELEVANCE_SCORE"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Retrieval.MinRelevanceScore = f
		}
	}
	if v := os.Getenv("AMANDOCS_RETRIEVAL_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.MaxResults = n
		}
	}
	if v := os.Getenv("AMANDOCS_SEMANTIC_SEARCH_MIN_RELEVANCE_SCORE"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.SemanticSearch.MinRelevanceScore = f
		}
	}
	if v := os.Getenv("AMANDOCS_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("AMANDOCS_EMBEDDINGS_CONTAINER_ENDPOINT"); v != "" {
		c.Embeddings.ContainerEndpoint = v
	}
	if v := os.Getenv("AMANDOCS_EMBEDDINGS_NATIVE_ENDPOINT"); v != "" {
		c.Embeddings.NativeEndpoint = v
	}
	if v := os.Getenv("AMANDOCS_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error
// describing every violation it finds (all violations are checked,
// not just the first — the config layer aggregates like the document
// pipeline's schema validation does).
func (c *Config) Validate() error {
	var problems []string

	if c.ProjectName == "" {
		problems = append(problems, "project_name is required")
	} else if !projectNamePattern.MatchString(c.ProjectName) {
		problems = append(problems, fmt.Sprintf("project_name %q must match %s", c.ProjectName, projectNamePattern.String()))
	}

	if c.Retrieval.MinRelevanceScore < 0 || c.Retrieval.MinRelevanceScore > 1 {
		problems = append(problems, fmt.Sprintf("retrieval.min_relevance_score must be between 0 and 1, got %f", c.Retrieval.MinRelevanceScore))
	}
	if c.Retrieval.MaxResults < 0 {
		problems = append(problems, fmt.Sprintf("retrieval.max_results must be non-negative, got %d", c.Retrieval.MaxResults))
	}
	if c.Retrieval.MaxLinkedDocs < 0 {
		problems = append(problems, fmt.Sprintf("retrieval.max_linked_docs must be non-negative, got %d", c.Retrieval.MaxLinkedDocs))
	}

	if c.SemanticSearch.MinRelevanceScore < 0 || c.SemanticSearch.MinRelevanceScore > 1 {
		problems = append(problems, fmt.Sprintf("semantic_search.min_relevance_score must be between 0 and 1, got %f", c.SemanticSearch.MinRelevanceScore))
	}
	if c.SemanticSearch.DefaultLimit <= 0 {
		problems = append(problems, fmt.Sprintf("semantic_search.default_limit must be positive, got %d", c.SemanticSearch.DefaultLimit))
	}

	if c.LinkResolution.MaxDepth < 0 {
		problems = append(problems, fmt.Sprintf("link_resolution.max_depth must be non-negative, got %d", c.LinkResolution.MaxDepth))
	}

	if c.ExternalDocs != nil && c.ExternalDocs.Path == "" {
		problems = append(problems, "external_docs.path is required when external_docs is present")
	}

	seenDocTypes := make(map[string]bool, len(c.CustomDocTypes))
	for _, dt := range c.CustomDocTypes {
		if dt.Name == "" {
			problems = append(problems, "custom_doc_types[]: name is required")
			continue
		}
		if seenDocTypes[dt.Name] {
			problems = append(problems, fmt.Sprintf("custom_doc_types[]: duplicate name %q", dt.Name))
		}
		seenDocTypes[dt.Name] = true
		if dt.Folder == "" {
			problems = append(problems, fmt.Sprintf("custom_doc_types[%s]: folder is required", dt.Name))
		}
		if dt.SchemaFile == "" {
			problems = append(problems, fmt.Sprintf("custom_doc_types[%s]: schema_file is required", dt.Name))
		}
	}

	if c.Embeddings.MaxConcurrent <= 0 {
		problems = append(problems, fmt.Sprintf("embeddings.max_concurrent must be positive, got %d", c.Embeddings.MaxConcurrent))
	}
	if c.Embeddings.Dimensions < 0 {
		problems = append(problems, fmt.Sprintf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		problems = append(problems, fmt.Sprintf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%d configuration problems: %s", len(problems), strings.Join(problems, "; "))
}

// WriteJSON writes the configuration to path as indented JSON, the
// project config file's on-disk format.
func (c *Config) WriteJSON(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// FindProjectRoot walks up from startDir looking for a repository
// root: a .git directory, or a directory already carrying this
// project's own data dir (DataDirName). Reaching the filesystem root
// without finding either returns startDir itself, so callers in a
// bare directory still get a usable (if fresh) project root instead
// of an error.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve start directory: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) {
			return current, nil
		}
		if dirExists(filepath.Join(current, DataDirName)) {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}
