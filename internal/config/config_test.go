package config

import "testing"

func TestMemoryLimitBytes(t *testing.T) {
	cases := map[string]int64{
		"512m": 512 * 1024 * 1024,
		"1g":   1024 * 1024 * 1024,
		"256k": 256 * 1024,
		"100":  100,
	}
	for in, want := range cases {
		got, err := MemoryLimitBytes(in)
		if err != nil {
			t.Fatalf("MemoryLimitBytes(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("MemoryLimitBytes(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestMemoryLimitBytesRejectsEmpty(t *testing.T) {
	if _, err := MemoryLimitBytes(""); err == nil {
		t.Error("expected error for empty limit")
	}
}

func TestMemoryLimitBytesRejectsGarbage(t *testing.T) {
	if _, err := MemoryLimitBytes("not-a-size"); err == nil {
		t.Error("expected error for non-numeric limit")
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim("github.com, gitlab.com ,,bitbucket.org")
	want := []string{"github.com", "gitlab.com", "bitbucket.org"}
	if len(got) != len(want) {
		t.Fatalf("splitAndTrim result = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitAndTrim[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "mcp-cicd-server" {
		t.Errorf("ServerName = %q, want default", cfg.ServerName)
	}
	if cfg.PortRangeStart != 8000 || cfg.PortRangeEnd != 9000 {
		t.Errorf("port range = [%d,%d], want [8000,9000]", cfg.PortRangeStart, cfg.PortRangeEnd)
	}
}
