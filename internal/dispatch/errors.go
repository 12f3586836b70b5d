// Package dispatch exposes amandocs's tool surface to an orchestrating
// client over a line-delimited JSON-RPC channel on stdin/stdout.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/aman-cerp/amandocs/internal/errors"
	"github.com/aman-cerp/amandocs/internal/schema"
	"github.com/aman-cerp/amandocs/internal/store"
	"github.com/aman-cerp/amandocs/internal/tenant"
)

// AppError is the application error envelope every tool response
// carries on failure (§6.2 of the protocol this dispatcher
// implements).
type AppError struct {
	Error   bool           `json:"error"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func newAppError(code, message string) *AppError {
	return &AppError{Error: true, Code: code, Message: message}
}

func (e *AppError) withDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrInvalidParams is returned by a handler when the decoded request
// params fail the tool's own shape/required-field checks, distinct
// from schema validation of a document body.
var ErrInvalidParams = errors.New("dispatch: invalid params")

// ErrProjectNotActivated is returned by every tenant-scoped handler
// when activate_project has not yet bound this process to a tenant.
var ErrProjectNotActivated = errors.New("dispatch: no project activated")

// ErrDocumentNotFound is returned by a handler that looked a document
// up by path and found nothing for the active tenant.
var ErrDocumentNotFound = errors.New("dispatch: document not found")

// Envelope error codes, per the protocol's named set.
const (
	CodeProjectNotActivated  = "PROJECT_NOT_ACTIVATED"
	CodeInvalidProject       = "INVALID_PROJECT"
	CodeInvalidParams        = "INVALID_PARAMS"
	CodeInvalidDocType       = "INVALID_DOC_TYPE"
	CodeDocumentNotFound     = "DOCUMENT_NOT_FOUND"
	CodeEmbeddingServiceErr  = "EMBEDDING_SERVICE_ERROR"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeOllamaNotRunning     = "OLLAMA_NOT_RUNNING"
	CodeSchemaValidationFail = "SCHEMA_VALIDATION_FAIL"
	CodeTenantMismatch       = "TENANT_MISMATCH"
	CodeInternalError        = "INTERNAL_ERROR"
)

// MapError converts an internal error into the JSON-RPC-visible
// AppError envelope, widening AmanError's five categories out to this
// protocol's ten named envelope codes plus INTERNAL_ERROR. A nil error maps to nil:
// callers only invoke MapError once a handler has actually failed.
func MapError(err error) *AppError {
	if err == nil {
		return nil
	}

	// Cancellation propagates as-is and is never logged as an error by
	// the caller; dispatch still needs an envelope to write to the
	// client, so it maps to INTERNAL_ERROR with a message of its own.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newAppError(CodeInternalError, "request canceled or timed out")
	}

	if errors.Is(err, ErrInvalidParams) {
		return newAppError(CodeInvalidParams, err.Error())
	}
	if errors.Is(err, ErrProjectNotActivated) {
		return newAppError(CodeProjectNotActivated, err.Error())
	}
	if errors.Is(err, ErrDocumentNotFound) {
		return newAppError(CodeDocumentNotFound, err.Error())
	}

	switch {
	case errors.Is(err, tenant.ErrTenantMismatch):
		return newAppError(CodeTenantMismatch, "requested tenant does not match the active project")
	case errors.Is(err, tenant.ErrInvalidTenant):
		return newAppError(CodeInvalidProject, err.Error())
	case errors.Is(err, tenant.ErrAlreadyInitialized):
		return newAppError(CodeInvalidProject, "project already activated against a different path")
	}

	var dimErr store.ErrDimensionMismatch
	if errors.As(err, &dimErr) {
		return newAppError(CodeEmbeddingServiceErr, dimErr.Error()).
			withDetail("expected", dimErr.Expected).withDetail("got", dimErr.Got)
	}
	if errors.Is(err, store.ErrConflict) {
		return newAppError(CodeDatabaseError, "document was concurrently modified, retry")
	}

	var schemaFail *schema.SchemaValidationFail
	if errors.As(err, &schemaFail) {
		ae := newAppError(CodeSchemaValidationFail, schemaFail.Error())
		violations := make([]map[string]string, 0, len(schemaFail.Errors))
		for _, fe := range schemaFail.Errors {
			violations = append(violations, map[string]string{"field": fe.Field, "message": fe.Message})
		}
		return ae.withDetail("doc_type", schemaFail.DocType).withDetail("violations", violations)
	}
	if errors.Is(err, schema.ErrUnknownDocType) {
		return newAppError(CodeInvalidDocType, err.Error())
	}

	var amanErr *amerrors.AmanError
	if errors.As(err, &amanErr) {
		return mapAmanError(amanErr)
	}

	return newAppError(CodeInternalError, "internal server error")
}

// mapAmanError converts the internal structured error type to an
// AppError, switching on category and falling back to the specific
// error code where a category alone is ambiguous.
func mapAmanError(ae *amerrors.AmanError) *AppError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}

	switch ae.Category {
	case amerrors.CategoryConfig:
		return newAppError(CodeInternalError, message)
	case amerrors.CategoryIO:
		switch ae.Code {
		case amerrors.ErrCodeFileNotFound:
			return newAppError(CodeDocumentNotFound, message)
		case amerrors.ErrCodeDatabaseError:
			return newAppError(CodeDatabaseError, message)
		default:
			return newAppError(CodeInternalError, message)
		}
	case amerrors.CategoryNetwork:
		if ae.Code == amerrors.ErrCodeOllamaNotRunning {
			return newAppError(CodeOllamaNotRunning, message)
		}
		return newAppError(CodeEmbeddingServiceErr, message)
	case amerrors.CategoryValidation:
		switch ae.Code {
		case amerrors.ErrCodeProjectNotActivated:
			return newAppError(CodeProjectNotActivated, message)
		case amerrors.ErrCodeInvalidProject:
			return newAppError(CodeInvalidProject, message)
		case amerrors.ErrCodeTenantMismatch:
			return newAppError(CodeTenantMismatch, message)
		case amerrors.ErrCodeInvalidDocType:
			return newAppError(CodeInvalidDocType, message)
		case amerrors.ErrCodeDocumentNotFound:
			return newAppError(CodeDocumentNotFound, message)
		case amerrors.ErrCodeSchemaValidationFail:
			return newAppError(CodeSchemaValidationFail, message)
		default:
			return newAppError(CodeInvalidParams, message)
		}
	default: // CategoryInternal and unknown
		return newAppError(CodeInternalError, message)
	}
}
