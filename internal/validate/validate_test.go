package validate

import (
	"errors"
	"testing"

	"mcp-cicd-agent/internal/cicderr"
)

func TestBranchName(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"main", false},
		{"feature/add-thing", false},
		{"release-1.2.3", false},
		{"../etc/passwd", true},
		{"bad branch", true},
		{"bad;branch", true},
	}
	for _, c := range cases {
		_, err := BranchName(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("BranchName(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
		}
	}
}

func TestContainerName(t *testing.T) {
	if _, err := ContainerName("hello-demo"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ContainerName("1"); err == nil {
		t.Error("expected error for too-short name")
	}
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := ContainerName(string(long)); err == nil {
		t.Error("expected error for name exceeding 63 characters")
	}
}

func TestImageTag(t *testing.T) {
	tag, err := ImageTag("hello")
	if err != nil || tag != "hello:latest" {
		t.Errorf("ImageTag(hello) = %q, %v; want hello:latest, nil", tag, err)
	}
	tag, err = ImageTag("hello:v1")
	if err != nil || tag != "hello:v1" {
		t.Errorf("ImageTag(hello:v1) = %q, %v; want hello:v1, nil", tag, err)
	}
	if _, err := ImageTag("Hello:v1"); err == nil {
		t.Error("expected error for uppercase image name")
	}
}

func TestPort(t *testing.T) {
	if _, err := Port(8080, 1024, 65535); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := Port(80, 1024, 65535); err == nil {
		t.Error("expected error for port below range")
	}
	if _, err := Port(8080, 1, 65535); err != nil {
		t.Errorf("unexpected error for lowered min: %v", err)
	}
}

func TestDockerfilePath(t *testing.T) {
	exists := func(path string) (bool, error) { return true, nil }
	if _, err := DockerfilePath("Dockerfile", "/repo", exists); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := DockerfilePath("../../etc/passwd", "/repo", exists); err == nil {
		t.Error("expected error for path traversal")
	}

	notFound := func(path string) (bool, error) { return false, nil }
	if _, err := DockerfilePath("Dockerfile", "/repo", notFound); err == nil {
		t.Error("expected error when file does not exist")
	}
}

func TestEnvVars(t *testing.T) {
	ok, err := EnvVars(map[string]string{"FOO": "bar"})
	if err != nil || ok["FOO"] != "bar" {
		t.Errorf("unexpected result: %v, %v", ok, err)
	}
	if _, err := EnvVars(map[string]string{"foo": "bar"}); err == nil {
		t.Error("expected error for lowercase key")
	}
	if _, err := EnvVars(map[string]string{"FOO": "bar; rm -rf /"}); err == nil {
		t.Error("expected error for shell metacharacters in value")
	}
	if _, err := EnvVars(map[string]string{"FOO": "$(whoami)"}); err == nil {
		t.Error("expected error for command substitution in value")
	}
}

func TestDeploymentID(t *testing.T) {
	if _, err := DeploymentID("dep-20260101-abc123"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := DeploymentID("not-a-deployment-id"); err == nil {
		t.Error("expected error for malformed deployment id")
	}
}

func TestValidationErrorsCarryKind(t *testing.T) {
	_, err := BranchName("bad branch")
	var cerr *cicderr.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *cicderr.Error, got %T", err)
	}
	if cerr.Kind != cicderr.KindValidation {
		t.Errorf("Kind = %v, want %v", cerr.Kind, cicderr.KindValidation)
	}
}
