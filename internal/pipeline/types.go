package pipeline

import "fmt"

// ValidationReason names why a document failed the pipeline's parse
// or schema validation step, distinct from a SchemaValidationFail
// (which always carries field-level detail).
type ValidationReason string

const (
	// ReasonMissingFrontmatter: a doc-typed folder's file has no
	// `---`-delimited frontmatter block at all.
	ReasonMissingFrontmatter ValidationReason = "missing_frontmatter"
)

// ValidationFail is returned for documents that fail parse-time
// validation before schema checking even has a doc_type to validate
// against. Schema-level failures use schema.SchemaValidationFail
// instead.
type ValidationFail struct {
	RelPath string
	Reason  ValidationReason
}

func (e *ValidationFail) Error() string {
	return fmt.Sprintf("%s: %s", e.RelPath, e.Reason)
}

// frontmatter is the decoded YAML frontmatter block. Fields mirror the
// document data model (SPEC_FULL.md); unrecognized keys are dropped
// here. Schema validation decodes the same block separately into a
// generic map (frontmatterInstance) to see the full instance.
type frontmatter struct {
	DocType        string   `yaml:"doc_type"`
	Title          string   `yaml:"title"`
	Date           string   `yaml:"date"`
	Summary        string   `yaml:"summary"`
	Significance   string   `yaml:"significance"`
	PromotionLevel string   `yaml:"promotion_level"`
	Tags           []string `yaml:"tags"`
	RelatedDocs    []string `yaml:"related_docs"`
	Supersedes     string   `yaml:"supersedes"`
}
