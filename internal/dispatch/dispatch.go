package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/aman-cerp/amandocs/pkg/version"
)

// maxMessageBytes bounds a single line-delimited JSON-RPC message.
// Document bodies travel base64-ish as JSON strings, so the default
// bufio.Scanner 64KB token limit is too small for anything but trivial
// documents.
const maxMessageBytes = 8 << 20 // 8MB

// Request is one line-delimited JSON-RPC request.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is a transport-layer JSON-RPC 2.0 error: the request itself
// could not be dispatched to a tool handler at all (malformed JSON,
// unknown method, a params shape the transport can't even decode). Its
// Code follows the JSON-RPC reserved integer ranges, not this
// protocol's named AppError codes.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 transport error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)

// Response is one line-delimited JSON-RPC response. A tool call that
// reaches its handler always gets a Result, even on failure: handler
// errors are mapped to an AppError envelope and carried as Result's
// payload, since the RPC call itself succeeded (§6.2). RPCErr is
// reserved for requests that never reached a handler at all - Result
// and RPCErr are mutually exclusive.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	RPCErr *RPCError       `json:"error,omitempty"`
}

// HandlerFunc handles one tool call's decoded params and returns the
// result value to place in Response.Result, or an error to be mapped
// through MapError.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher reads line-delimited JSON-RPC requests from an input
// stream and writes line-delimited JSON-RPC responses to an output
// stream, routing each request's method to a registered handler.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger

	out   io.Writer
	outMu sync.Mutex
}

// New builds a Dispatcher with no handlers registered. Call Register
// for each tool before calling Run.
func New(out io.Writer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
		out:      out,
	}
}

// Register binds a method name to its handler. Registering the same
// method twice replaces the previous handler.
func (d *Dispatcher) Register(method string, handler HandlerFunc) {
	d.handlers[method] = handler
}

// Run reads newline-delimited requests from in until EOF or ctx is
// canceled, dispatching each to its registered handler and writing a
// response for every line read, whether or not it carries an ID. Malformed lines
// produce a JSON-RPC parse-error response rather than aborting the
// loop: one bad line must not take down the whole session.
func (d *Dispatcher) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		d.handleLine(ctx, append([]byte(nil), line...))
	}
	return scanner.Err()
}

func (d *Dispatcher) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		d.write(Response{RPCErr: &RPCError{Code: RPCParseError, Message: "malformed request: " + err.Error()}})
		return
	}

	if req.Method == "initialize" {
		d.write(Response{ID: req.ID, Result: d.initializeResult()})
		return
	}

	handler, ok := d.handlers[req.Method]
	if !ok {
		d.write(Response{ID: req.ID, RPCErr: &RPCError{Code: RPCMethodNotFound, Message: "unknown method: " + req.Method}})
		return
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		d.logger.Warn("tool call failed", slog.String("method", req.Method), slog.Any("error", err))
		d.write(Response{ID: req.ID, Result: MapError(err)})
		return
	}
	d.write(Response{ID: req.ID, Result: result})
}

func (d *Dispatcher) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("failed to marshal response", slog.Any("error", err))
		return
	}
	data = append(data, '\n')

	d.outMu.Lock()
	defer d.outMu.Unlock()
	if _, err := d.out.Write(data); err != nil {
		d.logger.Error("failed to write response", slog.Any("error", err))
	}
}

func (d *Dispatcher) initializeResult() map[string]any {
	tools := make([]map[string]any, 0, len(d.handlers))
	for name := range d.handlers {
		tools = append(tools, map[string]any{"name": name})
	}
	return map[string]any{
		"protocolVersion": "1.0",
		"capabilities": map[string]any{
			"tools": tools,
		},
		"serverInfo": map[string]any{
			"name":    "amandocs",
			"version": version.Version,
		},
	}
}
