// Package config loads the agent's configuration from MCP_-prefixed
// environment variables using viper. Unlike the teacher's YAML-file-backed
// Config, this is purely environment-driven: there is no settings file for
// an operator to edit, only a flat list of env vars (see SPEC_FULL.md §6).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"mcp-cicd-agent/internal/cicderr"
)

// Config is the explicit, fully-constructed configuration value threaded
// into every subsystem at startup. There is no process-wide singleton: the
// caller builds one Config in main and passes it down, replacing the
// original's lazily-initialized settings object per the spec's design note.
type Config struct {
	ServerName string
	Transport  string

	WorkspaceDir  string
	DeploymentDir string
	LogDir        string

	LogLevel string
	LogJSON  bool

	PortRangeStart int
	PortRangeEnd   int

	ContainerMemoryLimit string
	HealthCheckTimeout   int

	AllowedGitHosts []string

	// GitHubToken is an opaque credential passed through to the Git
	// driver's auth layer. It must never be logged.
	GitHubToken string
}

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Load reads configuration from the environment, applying MCP_-prefixed
// overrides on top of the documented defaults, and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MCP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server_name", "mcp-cicd-server")
	v.SetDefault("transport", "stdio")
	v.SetDefault("workspace_dir", "./workspace")
	v.SetDefault("deployment_dir", "./deployments")
	v.SetDefault("log_dir", "./logs")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_json", true)
	v.SetDefault("port_range_start", 8000)
	v.SetDefault("port_range_end", 9000)
	v.SetDefault("container_memory_limit", "512m")
	v.SetDefault("health_check_timeout", 30)
	v.SetDefault("allowed_git_hosts", "github.com,gitlab.com")
	v.SetDefault("github_token", "")

	for _, key := range []string{
		"server_name", "transport", "workspace_dir", "deployment_dir", "log_dir",
		"log_level", "log_json", "port_range_start", "port_range_end",
		"container_memory_limit", "health_check_timeout", "allowed_git_hosts",
		"github_token",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, cicderr.Wrap(cicderr.KindConfiguration, err,
				fmt.Sprintf("failed to bind environment variable for %s", key),
				map[string]any{"key": key})
		}
	}

	logLevel := strings.ToUpper(v.GetString("log_level"))
	if !validLogLevels[logLevel] {
		return nil, cicderr.New(cicderr.KindConfiguration,
			fmt.Sprintf("invalid log level: %s", logLevel),
			map[string]any{"log_level": logLevel})
	}

	start := v.GetInt("port_range_start")
	end := v.GetInt("port_range_end")
	for _, p := range []int{start, end} {
		if p < 1024 || p > 65535 {
			return nil, cicderr.New(cicderr.KindConfiguration,
				"port must be between 1024 and 65535",
				map[string]any{"port": p})
		}
	}
	if start > end {
		return nil, cicderr.New(cicderr.KindConfiguration,
			"port_range_start must not exceed port_range_end",
			map[string]any{"start": start, "end": end})
	}

	hosts := splitAndTrim(v.GetString("allowed_git_hosts"))

	cfg := &Config{
		ServerName:            v.GetString("server_name"),
		Transport:             v.GetString("transport"),
		WorkspaceDir:          v.GetString("workspace_dir"),
		DeploymentDir:         v.GetString("deployment_dir"),
		LogDir:                v.GetString("log_dir"),
		LogLevel:              logLevel,
		LogJSON:               v.GetBool("log_json"),
		PortRangeStart:        start,
		PortRangeEnd:          end,
		ContainerMemoryLimit:  v.GetString("container_memory_limit"),
		HealthCheckTimeout:    v.GetInt("health_check_timeout"),
		AllowedGitHosts:       hosts,
		GitHubToken:           v.GetString("github_token"),
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MemoryLimitBytes converts the configured memory limit string (e.g.
// "512m") into bytes for the container driver. Accepts a trailing k/m/g
// suffix, case-insensitive; no suffix means bytes.
func MemoryLimitBytes(limit string) (int64, error) {
	limit = strings.TrimSpace(limit)
	if limit == "" {
		return 0, fmt.Errorf("empty memory limit")
	}
	multiplier := int64(1)
	suffix := limit[len(limit)-1]
	numPart := limit
	switch suffix {
	case 'k', 'K':
		multiplier = 1024
		numPart = limit[:len(limit)-1]
	case 'm', 'M':
		multiplier = 1024 * 1024
		numPart = limit[:len(limit)-1]
	case 'g', 'G':
		multiplier = 1024 * 1024 * 1024
		numPart = limit[:len(limit)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", limit, err)
	}
	return n * multiplier, nil
}
