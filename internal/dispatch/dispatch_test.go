package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/amandocs/internal/tenant"
)

func readResponses(t *testing.T, out *bytes.Buffer) []Response {
	t.Helper()
	var resps []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r Response
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		resps = append(resps, r)
	}
	return resps
}

func TestDispatcher_Initialize(t *testing.T) {
	out := &bytes.Buffer{}
	d := New(out, nil)
	d.Register("rag_query", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"ok": "true"}, nil
	})

	in := strings.NewReader(`{"id":"1","method":"initialize"}` + "\n")
	require.NoError(t, d.Run(context.Background(), in))

	resps := readResponses(t, out)
	require.Len(t, resps, 1)
	assert.Nil(t, resps[0].RPCErr)
	result, ok := resps[0].Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0", result["protocolVersion"])
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	out := &bytes.Buffer{}
	d := New(out, nil)

	in := strings.NewReader(`{"id":"1","method":"does_not_exist"}` + "\n")
	require.NoError(t, d.Run(context.Background(), in))

	resps := readResponses(t, out)
	require.Len(t, resps, 1)
	require.Nil(t, resps[0].Result)
	require.NotNil(t, resps[0].RPCErr)
	assert.Equal(t, RPCMethodNotFound, resps[0].RPCErr.Code)
}

func TestDispatcher_MalformedLine_DoesNotAbortSession(t *testing.T) {
	out := &bytes.Buffer{}
	d := New(out, nil)
	d.Register("rag_query", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "ok", nil
	})

	in := strings.NewReader("{not json}\n" + `{"id":"2","method":"rag_query"}` + "\n")
	require.NoError(t, d.Run(context.Background(), in))

	resps := readResponses(t, out)
	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].RPCErr)
	assert.Equal(t, RPCParseError, resps[0].RPCErr.Code)
	assert.Nil(t, resps[1].RPCErr)
}

// TestDispatcher_HandlerError_MapsToEnvelope verifies §6.2: a handler
// failure is still a successful JSON-RPC response whose Result carries
// the AppError envelope, not a transport-level RPCErr.
func TestDispatcher_HandlerError_MapsToEnvelope(t *testing.T) {
	out := &bytes.Buffer{}
	d := New(out, nil)
	d.Register("activate_project", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, tenant.ErrTenantMismatch
	})

	in := strings.NewReader(`{"id":"1","method":"activate_project"}` + "\n")
	require.NoError(t, d.Run(context.Background(), in))

	resps := readResponses(t, out)
	require.Len(t, resps, 1)
	require.Nil(t, resps[0].RPCErr)
	require.NotNil(t, resps[0].Result)
	envelope, ok := resps[0].Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, envelope["error"])
	assert.Equal(t, CodeTenantMismatch, envelope["code"])
}

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_InvalidParams(t *testing.T) {
	ae := MapError(errors.Join(ErrInvalidParams, errors.New("missing doc_type")))
	require.NotNil(t, ae)
	assert.Equal(t, CodeInvalidParams, ae.Code)
}

func TestMapError_UnwrappedDocTypeText_IsInternal(t *testing.T) {
	ae := MapError(errors.New("schema: unknown doc type: bogus"))
	require.NotNil(t, ae)
	assert.Equal(t, CodeInternalError, ae.Code)
}
