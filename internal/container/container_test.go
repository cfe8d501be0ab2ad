package container

import (
	"strings"
	"testing"
)

func TestStreamBuildOutputCollectsLines(t *testing.T) {
	input := strings.NewReader(`{"stream":"Step 1/3 : FROM scratch\n"}
{"stream":"Step 2/3 : COPY . .\n"}
{"stream":"Successfully built abc123\n"}
`)
	logs, buildErr := streamBuildOutput(input)
	if buildErr != "" {
		t.Fatalf("unexpected build error: %q", buildErr)
	}
	if len(logs) != 3 {
		t.Fatalf("logs = %v, want 3 entries", logs)
	}
}

func TestStreamBuildOutputSurfacesError(t *testing.T) {
	input := strings.NewReader(`{"stream":"Step 1/2 : FROM scratch\n"}
{"errorDetail":{"message":"no such file"},"error":"no such file"}
`)
	logs, buildErr := streamBuildOutput(input)
	if buildErr != "no such file" {
		t.Fatalf("buildErr = %q, want %q", buildErr, "no such file")
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %v, want 2 entries (stream line + error line)", logs)
	}
}

func TestStreamBuildOutputIgnoresMalformedLines(t *testing.T) {
	input := strings.NewReader("not json\n" + `{"stream":"ok\n"}` + "\n")
	logs, buildErr := streamBuildOutput(input)
	if buildErr != "" {
		t.Fatalf("unexpected build error: %q", buildErr)
	}
	if len(logs) != 1 || logs[0] != "ok" {
		t.Fatalf("logs = %v, want [\"ok\"]", logs)
	}
}
