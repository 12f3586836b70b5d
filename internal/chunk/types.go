package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Chunk size defaults. The unit is characters and lines, not tokens:
// retrieval ranks chunks by embedding similarity over raw text, and the
// indexing pipeline reports progress in lines scanned, so sizing the
// chunker in the same unit avoids a second conversion at query time.
const (
	DefaultMaxChunkChars  = 2000 // fallback span size once a section has no more heading structure to split on
	DefaultOverlapChars   = 200  // ~10% overlap between adjacent fallback spans
	ChunkTriggerLines     = 500  // documents at or under this many body lines are stored as a single chunk
	MinChunkChars         = 200  // not referenced by the markdown chunker, which does not merge small remainders into a neighbor
)

// ContentType represents the type of content in a chunk
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is a retrievable unit of content
type Chunk struct {
	ID          string            // content-addressable, see generateChunkID
	FilePath    string            // Relative to project root
	Content     string            // Full content with context
	RawContent  string            // Just the symbol, no context (code only)
	Context     string            // Imports, package decl (code only)
	ContentType ContentType       // code, markdown, text
	Language    string            // go, typescript, python, etc.
	StartLine   int               // 1-indexed
	EndLine     int               // Inclusive
	Symbols     []*Symbol         // Functions, classes, etc.
	Metadata    map[string]string // Custom metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileInput is input for the Chunker interface
type FileInput struct {
	Path     string // Relative path
	Content  []byte // File content
	Language string // go, typescript, python, etc.
}

// Chunker is the interface for splitting files into chunks
type Chunker interface {
	// Chunk splits a file into semantic chunks
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions returns file extensions this chunker handles
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol represents a code symbol extracted from parsing
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// generateChunkID derives a content-addressable chunk ID from the file
// path and chunk content. Hashing content rather than line numbers keeps
// the ID stable across unrelated edits earlier in the file, so a chunk
// whose text didn't change doesn't get needlessly re-embedded just
// because a heading above it shifted its line range.
func generateChunkID(filePath string, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]

	input := fmt.Sprintf("%s:%s", filePath, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
