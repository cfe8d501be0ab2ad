package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"mcp-cicd-agent/internal/cicderr"
)

func TestServeDispatchesToRegisteredHandler(t *testing.T) {
	d := New()
	d.Register("echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, err
		}
		return map[string]string{"echoed": payload.Message}, nil
	})

	in := strings.NewReader(`{"id":"1","tool":"echo","args":{"message":"hi"}}` + "\n")
	var out bytes.Buffer

	if err := d.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "1" {
		t.Errorf("ID = %q, want 1", resp.ID)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["echoed"] != "hi" {
		t.Errorf("unexpected result: %+v", resp.Result)
	}
}

func TestServeReportsUnknownTool(t *testing.T) {
	d := New()
	in := strings.NewReader(`{"id":"1","tool":"missing","args":{}}` + "\n")
	var out bytes.Buffer

	if err := d.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error == "" {
		t.Error("expected an error for an unknown tool")
	}
}

func TestServeSurfacesCicderrKindAndContext(t *testing.T) {
	d := New()
	d.Register("fail", func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, cicderr.New(cicderr.KindPortConflict, "port busy", map[string]any{"port": float64(8080)})
	})

	in := strings.NewReader(`{"id":"2","tool":"fail","args":{}}` + "\n")
	var out bytes.Buffer

	if err := d.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Kind != string(cicderr.KindPortConflict) {
		t.Errorf("Kind = %q, want %q", resp.Kind, cicderr.KindPortConflict)
	}
	if resp.Context["port"] != float64(8080) {
		t.Errorf("Context[port] = %v", resp.Context["port"])
	}
}

func TestServeHandlesMalformedLineAndContinues(t *testing.T) {
	d := New()
	d.Register("echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		return "ok", nil
	})

	in := strings.NewReader("not json\n" + `{"id":"3","tool":"echo","args":{}}` + "\n")
	var out bytes.Buffer

	if err := d.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 response lines, got %d", len(lines))
	}

	var first, second Response
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to decode first response: %v", err)
	}
	if first.Error == "" {
		t.Error("expected an error response for the malformed line")
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("failed to decode second response: %v", err)
	}
	if second.ID != "3" {
		t.Errorf("ID = %q, want 3", second.ID)
	}
}
