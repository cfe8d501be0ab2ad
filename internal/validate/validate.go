// Package validate implements the pure, I/O-free validators that form the
// trust boundary for every externally-supplied identifier (spec.md §4.1).
// Every function either returns a canonicalized value or a *cicderr.Error
// of kind KindValidation.
package validate

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"mcp-cicd-agent/internal/cicderr"
)

var (
	branchPattern        = regexp.MustCompile(`^[A-Za-z0-9._\-/]+$`)
	containerNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]+$`)
	imageNamePattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-/]*$`)
	imageVersionPattern  = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)
	envKeyPattern        = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	deploymentIDPattern  = regexp.MustCompile(`^dep-\d{8}-[a-z0-9]+$`)
	dangerousValuePatterns = []*regexp.Regexp{
		regexp.MustCompile("[;&|`$]"),
		regexp.MustCompile(`\$\(.*\)`),
		regexp.MustCompile("`.*`"),
	}
)

// BranchName validates a Git branch/tag/ref name.
func BranchName(branch string) (string, error) {
	if !branchPattern.MatchString(branch) {
		return "", cicderr.New(cicderr.KindValidation,
			"invalid branch name: "+branch,
			map[string]any{"branch": branch})
	}
	if strings.Contains(branch, "..") {
		return "", cicderr.New(cicderr.KindValidation,
			"branch name cannot contain '..'",
			map[string]any{"branch": branch})
	}
	return branch, nil
}

// ContainerName validates a Docker container name.
func ContainerName(name string) (string, error) {
	if !containerNamePattern.MatchString(name) {
		return "", cicderr.New(cicderr.KindValidation,
			"invalid container name: "+name,
			map[string]any{"name": name})
	}
	if len(name) > 63 {
		return "", cicderr.New(cicderr.KindValidation,
			"container name too long (max 63 characters)",
			map[string]any{"name": name, "length": len(name)})
	}
	return name, nil
}

// ImageTag validates and canonicalizes a Docker image tag, defaulting the
// version to "latest" if absent.
func ImageTag(tag string) (string, error) {
	name := tag
	version := "latest"
	if idx := strings.Index(tag, ":"); idx >= 0 {
		name = tag[:idx]
		version = tag[idx+1:]
	}

	if !imageNamePattern.MatchString(name) {
		return "", cicderr.New(cicderr.KindValidation,
			"invalid image name: "+name,
			map[string]any{"name": name})
	}
	if !imageVersionPattern.MatchString(version) {
		return "", cicderr.New(cicderr.KindValidation,
			"invalid image version: "+version,
			map[string]any{"version": version})
	}
	return name + ":" + version, nil
}

// Port validates a port number falls within [min,max]. Callers pass min=1
// for container-internal ports and min=1024 (the default) for host ports.
func Port(port, min, max int) (int, error) {
	if port < min || port > max {
		return 0, cicderr.New(cicderr.KindValidation,
			"port must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max),
			map[string]any{"port": port, "min": min, "max": max})
	}
	return port, nil
}

// DockerfilePath resolves path relative to baseDir, rejects path traversal
// outside baseDir, and requires the result to be an existing regular file.
// exists abstracts the filesystem check (os.Stat in production) so pure
// validation logic stays testable without a real file.
func DockerfilePath(path, baseDir string, exists func(string) (isFile bool, err error)) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", cicderr.Wrap(cicderr.KindValidation, err,
			"failed to resolve base directory", map[string]any{"base_dir": baseDir})
	}
	absPath, err := filepath.Abs(filepath.Join(absBase, path))
	if err != nil {
		return "", cicderr.Wrap(cicderr.KindValidation, err,
			"failed to resolve dockerfile path", map[string]any{"path": path})
	}

	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", cicderr.New(cicderr.KindValidation,
			"dockerfile path is outside repository directory",
			map[string]any{"path": path, "base_dir": baseDir})
	}

	isFile, err := exists(absPath)
	if err != nil || !isFile {
		return "", cicderr.New(cicderr.KindValidation,
			"dockerfile not found",
			map[string]any{"path": absPath})
	}

	return absPath, nil
}

// EnvVars validates and stringifies a map of environment variables,
// rejecting shell-metacharacter and command-substitution patterns.
func EnvVars(env map[string]string) (map[string]string, error) {
	sanitized := make(map[string]string, len(env))
	for key, value := range env {
		if !envKeyPattern.MatchString(key) {
			return nil, cicderr.New(cicderr.KindValidation,
				"invalid environment variable name: "+key,
				map[string]any{"key": key})
		}
		for _, pattern := range dangerousValuePatterns {
			if pattern.MatchString(value) {
				return nil, cicderr.New(cicderr.KindValidation,
					"environment variable contains dangerous characters: "+key,
					map[string]any{"key": key})
			}
		}
		sanitized[key] = value
	}
	return sanitized, nil
}

// DeploymentID validates the dep-YYYYMMDD-xxxxxx format.
func DeploymentID(id string) (string, error) {
	if !deploymentIDPattern.MatchString(id) {
		return "", cicderr.New(cicderr.KindValidation,
			"invalid deployment ID format: "+id,
			map[string]any{"deployment_id": id, "expected_format": "dep-YYYYMMDD-XXXXXX"})
	}
	return id, nil
}
