// Package container wraps the Docker Engine API as the container lifecycle
// manager described in spec.md §4.3: image builds with streamed log
// capture, hardened container creation, log retrieval, and graceful
// teardown. Grounded on _examples/OkGeneraL-Agent/internal/docker/docker.go,
// adapted to bind host ports to loopback only and to strip RUN_AS_USER from
// the environment before container creation.
package container

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"mcp-cicd-agent/internal/cicderr"
)

const managedByLabel = "mcp-cicd"

// Driver wraps a Docker Engine API client.
type Driver struct {
	cli *client.Client
}

// New constructs a Driver from the environment (DOCKER_HOST, DOCKER_TLS_VERIFY,
// etc.), verifying the daemon is reachable with a ping.
func New(ctx context.Context) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, cicderr.Wrap(cicderr.KindDockerOperation, err,
			"failed to construct docker client", nil)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, cicderr.Wrap(cicderr.KindDockerOperation, err,
			"failed to connect to docker daemon", nil)
	}
	return &Driver{cli: cli}, nil
}

// BuildResult is the outcome of a successful image build.
type BuildResult struct {
	ImageID   string
	Logs      []string
	SizeBytes int64
}

// Build builds an image from contextPath using dockerfile (relative to
// contextPath), streaming and collecting the build log to completion —
// the log generator must be drained even if the caller discards the lines,
// because the engine suspends the build until the stream is read.
func (d *Driver) Build(ctx context.Context, contextPath, tag, dockerfile string, buildArgs map[string]string) (*BuildResult, error) {
	tarStream, err := archive.TarWithOptions(contextPath, &archive.TarOptions{})
	if err != nil {
		return nil, cicderr.Wrap(cicderr.KindBuild, err,
			"failed to create build context archive", map[string]any{"path": contextPath})
	}
	defer tarStream.Close()

	bArgs := make(map[string]*string, len(buildArgs))
	for k, v := range buildArgs {
		v := v
		bArgs[k] = &v
	}

	resp, err := d.cli.ImageBuild(ctx, tarStream, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  dockerfile,
		BuildArgs:   bArgs,
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{"managed-by": managedByLabel},
		NoCache:     false,
	})
	if err != nil {
		return nil, cicderr.Wrap(cicderr.KindBuild, err,
			"docker build failed", map[string]any{"tag": tag})
	}
	defer resp.Body.Close()

	logs, buildErr := streamBuildOutput(resp.Body)
	if buildErr != "" {
		return nil, cicderr.New(cicderr.KindBuild,
			fmt.Sprintf("docker build failed: %s", buildErr),
			map[string]any{"tag": tag, "logs": logs})
	}

	inspect, _, err := d.cli.ImageInspectWithRaw(ctx, tag)
	if err != nil {
		return nil, cicderr.Wrap(cicderr.KindDockerOperation, err,
			"failed to inspect built image", map[string]any{"tag": tag})
	}

	return &BuildResult{ImageID: inspect.ID, Logs: logs, SizeBytes: inspect.Size}, nil
}

// streamBuildOutput decodes the newline-delimited JSON build log, collecting
// "stream" lines and returning the first "error" entry's text, if any. It
// reads to EOF, unless a single log line exceeds the scanner's 1 MiB limit,
// in which case reading stops at that line.
func streamBuildOutput(r io.Reader) (logs []string, buildErr string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Error != "" {
			if buildErr == "" {
				buildErr = entry.Error
			}
			logs = append(logs, "ERROR: "+entry.Error)
			continue
		}
		if s := strings.TrimSpace(entry.Stream); s != "" {
			logs = append(logs, s)
		}
	}
	return logs, buildErr
}

// Deploy creates and starts a hardened, detached container bound to
// 127.0.0.1:hostPort, replacing any existing container with the same name.
func (d *Driver) Deploy(ctx context.Context, imageTag, containerName string, hostPort, containerPort int, env map[string]string, memLimitBytes int64) (string, error) {
	if err := d.CleanupExisting(ctx, containerName); err != nil {
		return "", err
	}

	containerPortProto, err := nat.NewPort("tcp", strconv.Itoa(containerPort))
	if err != nil {
		return "", cicderr.Wrap(cicderr.KindContainerStart, err,
			"invalid container port", map[string]any{"container_port": containerPort})
	}

	// RUN_AS_USER is stripped: the image's user is authoritative. Accepting
	// it from env would let a caller override the running user and defeat
	// no-new-privileges.
	envList := make([]string, 0, len(env))
	for k, v := range env {
		if k == "RUN_AS_USER" {
			continue
		}
		envList = append(envList, k+"="+v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPortProto: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: strconv.Itoa(hostPort)},
			},
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		Resources: container.Resources{
			Memory: memLimitBytes,
		},
		SecurityOpt: []string{"no-new-privileges:true"},
	}

	containerConfig := &container.Config{
		Image: imageTag,
		Env:   envList,
		Labels: map[string]string{
			"managed-by": managedByLabel,
			"app":        containerName,
		},
		ExposedPorts: nat.PortSet{containerPortProto: struct{}{}},
	}

	created, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, containerName)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "port is already allocated") {
			return "", cicderr.Wrap(cicderr.KindPortConflict, err,
				fmt.Sprintf("port %d allocation failed", hostPort),
				map[string]any{"port": hostPort})
		}
		return "", cicderr.Wrap(cicderr.KindContainerStart, err,
			"failed to create container",
			map[string]any{"image": imageTag, "container": containerName})
	}

	if err := d.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "port is already allocated") {
			return "", cicderr.Wrap(cicderr.KindPortConflict, err,
				fmt.Sprintf("port %d allocation failed", hostPort),
				map[string]any{"port": hostPort})
		}
		return "", cicderr.Wrap(cicderr.KindContainerStart, err,
			"failed to start container",
			map[string]any{"image": imageTag, "container": containerName})
	}

	return created.ID, nil
}

// Logs returns the last tail lines (clamped to [1,1000]) of a container's
// output, with timestamps, as decoded UTF-8 text.
func (d *Driver) Logs(ctx context.Context, containerName string, tail int) (string, error) {
	if tail < 1 {
		tail = 1
	}
	if tail > 1000 {
		tail = 1000
	}

	reader, err := d.cli.ContainerLogs(ctx, containerName, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", cicderr.New(cicderr.KindDockerOperation,
				fmt.Sprintf("container %s not found", containerName),
				map[string]any{"container": containerName})
		}
		return "", cicderr.Wrap(cicderr.KindDockerOperation, err,
			"failed to get logs", map[string]any{"container": containerName})
	}
	defer reader.Close()

	// The container runs without a TTY, so the engine multiplexes stdout
	// and stderr into framed chunks; StdCopy strips the frame headers.
	var sb strings.Builder
	if _, err := stdcopy.StdCopy(&sb, &sb, reader); err != nil {
		return "", cicderr.Wrap(cicderr.KindDockerOperation, err,
			"failed to read logs", map[string]any{"container": containerName})
	}
	return sb.String(), nil
}

// Stop gracefully stops (10s timeout) and removes a container. A
// not-found target is non-fatal: Stop returns nil for it, so the caller
// cannot tell it apart from a container that was stopped and removed.
func (d *Driver) Stop(ctx context.Context, containerName string) error {
	timeout := 10
	if err := d.cli.ContainerStop(ctx, containerName, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return cicderr.Wrap(cicderr.KindDockerOperation, err,
			"failed to stop container", map[string]any{"container": containerName})
	}
	if err := d.cli.ContainerRemove(ctx, containerName, types.ContainerRemoveOptions{}); err != nil && !client.IsErrNotFound(err) {
		return cicderr.Wrap(cicderr.KindDockerOperation, err,
			"failed to remove container", map[string]any{"container": containerName})
	}
	return nil
}

// CleanupExisting stops and removes any container already bearing name,
// swallowing engine errors by design (spec.md §7: "cleanup_existing and
// stop of a non-existent target are the only places that swallow engine
// errors"). Used before Deploy to guarantee the name is free.
func (d *Driver) CleanupExisting(ctx context.Context, containerName string) error {
	timeout := 10
	_ = d.cli.ContainerStop(ctx, containerName, container.StopOptions{Timeout: &timeout})
	_ = d.cli.ContainerRemove(ctx, containerName, types.ContainerRemoveOptions{Force: true})
	return nil
}

// ListManaged returns all containers, running or stopped, carrying the
// managed-by=mcp-cicd label.
func (d *Driver) ListManaged(ctx context.Context) ([]types.Container, error) {
	f := filters.NewArgs(filters.Arg("label", "managed-by="+managedByLabel))
	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: f})
	if err != nil {
		return nil, cicderr.Wrap(cicderr.KindDockerOperation, err,
			"failed to list containers", nil)
	}
	return containers, nil
}

// Close releases the underlying client's connection.
func (d *Driver) Close() error {
	return d.cli.Close()
}
