// Package detect implements project-type detection (spec.md §4.2): an
// ordered set of marker-file rules, plus Dockerfile EXPOSE parsing so
// callers can default a container port without asking the operator.
// Grounded on original_source/.../tools/repo_tools.py's detect_project_type
// and _parse_dockerfile_ports.
package detect

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ProjectType is one of the ordered detection rule outcomes.
type ProjectType string

const (
	TypeDockerCompose ProjectType = "docker-compose"
	TypeDocker        ProjectType = "docker"
	TypeNodeJS        ProjectType = "nodejs"
	TypePython        ProjectType = "python"
	TypeGo            ProjectType = "go"
	TypeRust          ProjectType = "rust"
	TypeUnknown       ProjectType = "unknown"
)

type rule struct {
	ptype   ProjectType
	markers []string
}

// orderedRules is evaluated top to bottom; the first rule whose marker file
// exists in the repo root wins. Order matches the original implementation:
// a repo with both a Dockerfile and package.json is still "docker", since
// an explicit Dockerfile is the stronger signal.
var orderedRules = []rule{
	{TypeDockerCompose, []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml"}},
	{TypeDocker, []string{"Dockerfile"}},
	{TypeNodeJS, []string{"package.json"}},
	{TypePython, []string{"requirements.txt", "pyproject.toml", "setup.py"}},
	{TypeGo, []string{"go.mod"}},
	{TypeRust, []string{"Cargo.toml"}},
}

var exposePattern = regexp.MustCompile(`(?i)^\s*EXPOSE\s+(\d+)`)

// Result describes a detected project.
type Result struct {
	Type        ProjectType
	ComposeFile string
	Details     map[string]any
}

// Detect inspects repoPath's root for marker files and returns the first
// matching project type in orderedRules, or TypeUnknown.
func Detect(repoPath string) (*Result, error) {
	details := map[string]any{}

	hasDockerfile, err := fileExists(filepath.Join(repoPath, "Dockerfile"))
	if err != nil {
		return nil, err
	}
	composeFile, err := firstMatch(repoPath, "docker-compose.yml", "docker-compose.yaml", "compose.yml")
	if err != nil {
		return nil, err
	}
	details["has_dockerfile"] = hasDockerfile
	details["has_compose"] = composeFile != ""

	for _, r := range orderedRules {
		marker, err := firstMatch(repoPath, r.markers...)
		if err != nil {
			return nil, err
		}
		if marker != "" {
			if r.ptype == TypeDocker {
				if ports, err := ParseDockerfilePorts(filepath.Join(repoPath, "Dockerfile")); err == nil && len(ports) > 0 {
					details["exposed_ports"] = ports
				}
			}
			return &Result{Type: r.ptype, ComposeFile: composeFile, Details: details}, nil
		}
	}

	return &Result{Type: TypeUnknown, ComposeFile: composeFile, Details: details}, nil
}

// ParseDockerfilePorts scans a Dockerfile for EXPOSE directives and returns
// the declared container ports in file order. A directive may list more
// than one port ("EXPOSE 80 443"). Each token is split on "/" (dropping an
// optional "/tcp" suffix) and its leading field parsed as an integer;
// tokens that are not numeric are skipped.
func ParseDockerfilePorts(dockerfilePath string) ([]int, error) {
	f, err := os.Open(dockerfilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ports []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !exposePattern.MatchString(line) {
			continue
		}
		fields := strings.Fields(line)
		for _, field := range fields[1:] {
			numPart := field
			if idx := strings.Index(field, "/"); idx >= 0 {
				numPart = field[:idx]
			}
			if port, err := strconv.Atoi(numPart); err == nil {
				ports = append(ports, port)
			}
		}
	}
	return ports, scanner.Err()
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// firstMatch returns the first marker in markers that exists under
// repoPath, or "" if none do.
func firstMatch(repoPath string, markers ...string) (string, error) {
	for _, m := range markers {
		ok, err := fileExists(filepath.Join(repoPath, m))
		if err != nil {
			return "", err
		}
		if ok {
			return m, nil
		}
	}
	return "", nil
}
