// Package dispatcher implements the line-delimited JSON stdio protocol the
// agent exposes its eight tools over (spec.md §1, explicitly out of scope
// for full MCP compliance — this is the minimal request/response loop
// needed to invoke them). One JSON object per line in, one JSON object per
// line out; logging must never touch stdout, or it would corrupt framing.
package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"

	"mcp-cicd-agent/internal/cicderr"
)

// Handler executes one tool call against its raw JSON arguments and
// returns a JSON-serializable result.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Request is one line of stdin.
type Request struct {
	ID     string          `json:"id"`
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
}

// Response is one line written to stdout.
type Response struct {
	ID     string         `json:"id"`
	Result any            `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	Kind   string         `json:"kind,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Dispatcher holds the registered tool handlers.
type Dispatcher struct {
	handlers map[string]Handler
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}}
}

// Register adds a tool handler under name, overwriting any existing one.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Serve reads newline-delimited JSON requests from r and writes
// newline-delimited JSON responses to w until r returns EOF or ctx is
// cancelled. ctx is checked only after each line is read: a read blocked on
// r is not interrupted by cancellation. Malformed request lines produce an
// error response rather than terminating the loop.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = encoder.Encode(Response{Error: "malformed request: " + err.Error()})
			continue
		}

		resp := d.dispatch(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	handler, ok := d.handlers[req.Tool]
	if !ok {
		return Response{ID: req.ID, Error: "unknown tool: " + req.Tool}
	}

	result, err := handler(ctx, req.Args)
	if err == nil {
		return Response{ID: req.ID, Result: result}
	}

	var cerr *cicderr.Error
	if errors.As(err, &cerr) {
		return Response{ID: req.ID, Error: cerr.Message, Kind: string(cerr.Kind), Context: cerr.Context}
	}
	return Response{ID: req.ID, Error: err.Error()}
}
