// Package orchestrator implements the eight tool operations that make up
// the agent's external surface (spec.md §4.8): each validates its
// arguments, logs a structured started/completed/failed event, delegates
// to one of the four core subsystems, and — for deploy_container and
// rollback — commits a DeploymentRecord to the state store. Grounded on
// the orchestration shape of
// _examples/OkGeneraL-Agent/internal/deploy/deployment_engine.go
// (DeploymentEngine wiring a git manager, docker manager, store, and audit
// logger behind one façade), generalized to this spec's eight operations.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"mcp-cicd-agent/internal/cicderr"
	"mcp-cicd-agent/internal/config"
	"mcp-cicd-agent/internal/container"
	"mcp-cicd-agent/internal/detect"
	"mcp-cicd-agent/internal/gitdriver"
	"mcp-cicd-agent/internal/health"
	"mcp-cicd-agent/internal/logging"
	"mcp-cicd-agent/internal/metrics"
	"mcp-cicd-agent/internal/models"
	"mcp-cicd-agent/internal/portalloc"
	"mcp-cicd-agent/internal/state"
	"mcp-cicd-agent/internal/validate"
)

// Orchestrator wires the four core subsystems behind the eight tool
// operations. There is exactly one instance per process; it owns no
// process-wide singleton state itself, taking its Config as an explicit
// argument at construction instead (spec.md §9's design note on the source's lazily
// initialized config singleton).
type Orchestrator struct {
	cfg       *config.Config
	git       *gitdriver.Driver
	container *container.Driver
	store     *state.Store
	log       *logrus.Logger
	audit     *logging.AuditLogger
	metrics   *metrics.Registry
}

// New constructs an Orchestrator from its already-initialized collaborators.
func New(cfg *config.Config, git *gitdriver.Driver, cont *container.Driver, store *state.Store, log *logrus.Logger, audit *logging.AuditLogger, m *metrics.Registry) *Orchestrator {
	return &Orchestrator{cfg: cfg, git: git, container: cont, store: store, log: log, audit: audit, metrics: m}
}

func (o *Orchestrator) started(op string, fields logrus.Fields) {
	o.log.WithFields(fields).Info(op + " started")
	o.audit.LogEvent(op+".started", fieldsToMap(fields))
}

func (o *Orchestrator) completed(op string, fields logrus.Fields) {
	o.log.WithFields(fields).Info(op + " completed")
	o.audit.LogEvent(op+".completed", fieldsToMap(fields))
}

func (o *Orchestrator) failed(op string, err error, fields logrus.Fields) {
	fields["error"] = err.Error()
	o.log.WithFields(fields).Error(op + " failed")
	o.audit.LogEvent(op+".failed", fieldsToMap(fields))
}

func fieldsToMap(f logrus.Fields) map[string]any {
	m := make(map[string]any, len(f))
	for k, v := range f {
		m[k] = v
	}
	return m
}

// PrepareRepoArgs / Result mirror spec.md's prepare_repo tool.
type PrepareRepoArgs struct {
	RepoURL   string `json:"repo_url"`
	Branch    string `json:"branch"`
	TargetDir string `json:"target_dir"`
}

type PrepareRepoResult struct {
	WorkspacePath string    `json:"workspace_path"`
	CommitSHA     string    `json:"commit_sha"`
	ShortSHA      string    `json:"short_sha"`
	Branch        string    `json:"branch"`
	Author        string    `json:"author"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// PrepareRepo clones or updates a repository, checks out branch, and
// returns the final workspace path plus commit metadata.
func (o *Orchestrator) PrepareRepo(ctx context.Context, args PrepareRepoArgs) (*PrepareRepoResult, error) {
	branch := args.Branch
	if branch == "" {
		branch = "main"
	}

	fields := logrus.Fields{"repo_url": args.RepoURL, "branch": branch}
	o.started("prepare_repo", fields)

	if _, err := validate.BranchName(branch); err != nil {
		o.failed("prepare_repo", err, fields)
		return nil, err
	}

	result, err := o.git.PrepareRepository(ctx, args.RepoURL, branch)
	if err != nil {
		o.failed("prepare_repo", err, fields)
		return nil, err
	}

	out := &PrepareRepoResult{
		WorkspacePath: result.Path,
		CommitSHA:     result.Commit.SHA,
		ShortSHA:      result.Commit.ShortSHA,
		Branch:        result.Commit.Branch,
		Author:        result.Commit.Author,
		Message:       result.Commit.Message,
		Timestamp:     result.Commit.Timestamp,
	}
	fields["workspace_path"] = out.WorkspacePath
	o.completed("prepare_repo", fields)
	return out, nil
}

// DetectProjectTypeArgs / Result mirror spec.md's detect_project_type tool.
type DetectProjectTypeArgs struct {
	RepoPath string `json:"repo_path"`
}

type DetectProjectTypeResult struct {
	ProjectType   string         `json:"project_type"`
	DockerfilePath string        `json:"dockerfile_path,omitempty"`
	ComposeFile   string         `json:"compose_file,omitempty"`
	ExposedPorts  []int          `json:"exposed_ports"`
	Details       map[string]any `json:"details"`
}

// DetectProjectType classifies repoPath by marker files.
func (o *Orchestrator) DetectProjectType(ctx context.Context, args DetectProjectTypeArgs) (*DetectProjectTypeResult, error) {
	fields := logrus.Fields{"repo_path": args.RepoPath}
	o.started("detect_project_type", fields)

	result, err := detect.Detect(args.RepoPath)
	if err != nil {
		err = cicderr.Wrap(cicderr.KindConfiguration, err, "failed to detect project type", map[string]any{"repo_path": args.RepoPath})
		o.failed("detect_project_type", err, fields)
		return nil, err
	}

	out := &DetectProjectTypeResult{
		ProjectType: string(result.Type),
		Details:     result.Details,
	}
	if result.Type == detect.TypeDocker {
		out.DockerfilePath = "Dockerfile"
	}
	out.ComposeFile = result.ComposeFile
	if ports, ok := result.Details["exposed_ports"].([]int); ok {
		out.ExposedPorts = ports
	} else {
		out.ExposedPorts = []int{}
	}

	fields["project_type"] = out.ProjectType
	o.completed("detect_project_type", fields)
	return out, nil
}

// BuildImageArgs / Result mirror spec.md's build_image tool.
type BuildImageArgs struct {
	Path       string            `json:"path"`
	ImageTag   string            `json:"image_tag"`
	Dockerfile string            `json:"dockerfile"`
	BuildArgs  map[string]string `json:"build_args"`
}

type BuildImageResult struct {
	ImageID    string   `json:"image_id"`
	ImageTag   string   `json:"image_tag"`
	BuildLogs  []string `json:"build_logs"`
	BuildTime  float64  `json:"build_time"`
	SizeBytes  int64    `json:"size_bytes"`
	SizeMB     float64  `json:"size_mb"`
}

// BuildImage builds a tagged container image from a checked-out repo path.
func (o *Orchestrator) BuildImage(ctx context.Context, args BuildImageArgs) (*BuildImageResult, error) {
	dockerfile := args.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	fields := logrus.Fields{"path": args.Path, "image_tag": args.ImageTag}
	o.started("build_image", fields)

	tag, err := validate.ImageTag(args.ImageTag)
	if err != nil {
		o.failed("build_image", err, fields)
		return nil, err
	}
	if _, err := validate.DockerfilePath(dockerfile, args.Path, fileIsRegular); err != nil {
		o.failed("build_image", err, fields)
		return nil, err
	}

	start := time.Now()
	result, err := o.container.Build(ctx, args.Path, tag, dockerfile, args.BuildArgs)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		o.metrics.DeploymentsTotal.WithLabelValues("build_failed").Inc()
		o.failed("build_image", err, fields)
		return nil, err
	}
	o.metrics.BuildDuration.Observe(elapsed)

	out := &BuildImageResult{
		ImageID:   result.ImageID,
		ImageTag:  tag,
		BuildLogs: result.Logs,
		BuildTime: elapsed,
		SizeBytes: result.SizeBytes,
		SizeMB:    float64(result.SizeBytes) / (1024 * 1024),
	}
	fields["image_id"] = out.ImageID
	o.completed("build_image", fields)
	return out, nil
}

func fileIsRegular(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// DeployContainerArgs / Result mirror spec.md's deploy_container tool.
type DeployContainerArgs struct {
	ImageTag      string            `json:"image_tag"`
	ContainerName string            `json:"container_name"`
	HostPort      int               `json:"host_port"`
	ContainerPort int               `json:"container_port"`
	EnvVars       map[string]string `json:"env_vars"`
	RepoURL       string            `json:"repo_url"`
	Branch        string            `json:"branch"`
	CommitSHA     string            `json:"commit_sha"`
	ProjectType   string            `json:"project_type"`
	DeploymentID  string            `json:"deployment_id"`
}

type DeployContainerResult struct {
	DeploymentID  string `json:"deployment_id"`
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	URL           string `json:"url"`
	Status        string `json:"status"`
}

var deploymentIDSuffix = regexp.MustCompile(`[^a-z0-9]`)

// DeployContainer validates arguments, allocates or confirms a host port,
// deploys a hardened container, and persists a running DeploymentRecord.
func (o *Orchestrator) DeployContainer(ctx context.Context, args DeployContainerArgs) (*DeployContainerResult, error) {
	containerPort := args.ContainerPort
	if containerPort == 0 {
		containerPort = 8000
	}

	fields := logrus.Fields{"image_tag": args.ImageTag, "container_name": args.ContainerName}
	o.started("deploy_container", fields)

	tag, err := validate.ImageTag(args.ImageTag)
	if err != nil {
		o.failed("deploy_container", err, fields)
		return nil, err
	}
	name, err := validate.ContainerName(args.ContainerName)
	if err != nil {
		o.failed("deploy_container", err, fields)
		return nil, err
	}
	if _, err := validate.Port(containerPort, 1, 65535); err != nil {
		o.failed("deploy_container", err, fields)
		return nil, err
	}
	env, err := validate.EnvVars(args.EnvVars)
	if err != nil {
		o.failed("deploy_container", err, fields)
		return nil, err
	}

	hostPort := args.HostPort
	if hostPort == 0 {
		hostPort, err = portalloc.FindAvailable(o.cfg.PortRangeStart, o.cfg.PortRangeEnd)
		if err != nil {
			o.failed("deploy_container", err, fields)
			return nil, err
		}
	} else {
		if _, err := validate.Port(hostPort, 1024, 65535); err != nil {
			o.failed("deploy_container", err, fields)
			return nil, err
		}
		if !portalloc.IsAvailable(hostPort) {
			err := cicderr.New(cicderr.KindPortConflict,
				fmt.Sprintf("port %d is already in use", hostPort),
				map[string]any{"port": hostPort})
			o.failed("deploy_container", err, fields)
			return nil, err
		}
	}
	fields["host_port"] = hostPort

	memLimit, err := config.MemoryLimitBytes(o.cfg.ContainerMemoryLimit)
	if err != nil {
		err = cicderr.Wrap(cicderr.KindConfiguration, err, "invalid configured memory limit", nil)
		o.failed("deploy_container", err, fields)
		return nil, err
	}

	containerID, err := o.container.Deploy(ctx, tag, name, hostPort, containerPort, env, memLimit)
	if err != nil {
		o.metrics.DeploymentsTotal.WithLabelValues("deploy_failed").Inc()
		o.failed("deploy_container", err, fields)
		return nil, err
	}

	deploymentID := args.DeploymentID
	if deploymentID == "" {
		deploymentID = newDeploymentID(name)
	}

	now := time.Now().UTC()
	record := &models.DeploymentRecord{
		DeploymentID:  deploymentID,
		RepoURL:       args.RepoURL,
		Branch:        args.Branch,
		CommitSHA:     args.CommitSHA,
		ProjectType:   args.ProjectType,
		ImageTag:      tag,
		ContainerName: name,
		ContainerID:   containerID,
		HostPort:      hostPort,
		ContainerPort: containerPort,
		Status:        models.StatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
		StartedAt:     &now,
		CompletedAt:   &now,
	}
	if err := o.store.Save(record); err != nil {
		o.failed("deploy_container", err, fields)
		return nil, err
	}
	o.metrics.DeploymentsTotal.WithLabelValues("running").Inc()

	out := &DeployContainerResult{
		DeploymentID:  deploymentID,
		ContainerID:   containerID,
		ContainerName: name,
		HostPort:      hostPort,
		ContainerPort: containerPort,
		URL:           fmt.Sprintf("http://localhost:%d", hostPort),
		Status:        string(models.StatusRunning),
	}
	fields["deployment_id"] = deploymentID
	o.completed("deploy_container", fields)
	return out, nil
}

func newDeploymentID(name string) string {
	stamp := time.Now().UTC().Format("20060102")
	suffix := deploymentIDSuffix.ReplaceAllString(name, "")
	if suffix == "" {
		suffix = "x"
	}
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	return fmt.Sprintf("dep-%s-%s", stamp, suffix)
}

// HealthcheckArgs / Result mirror spec.md's healthcheck tool.
type HealthcheckArgs struct {
	URL            string  `json:"url"`
	TimeoutSeconds float64 `json:"timeout"`
	Interval       float64 `json:"interval"`
	Backoff        float64 `json:"backoff"`
	ExpectedStatus int     `json:"expected_status"`
}

type HealthcheckResult struct {
	Healthy        bool    `json:"healthy"`
	ResponseCode   int     `json:"response_code,omitempty"`
	Attempts       int     `json:"attempts"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Error          string  `json:"error,omitempty"`
}

// Healthcheck polls args.URL with bounded exponential backoff.
func (o *Orchestrator) Healthcheck(ctx context.Context, args HealthcheckArgs) (*HealthcheckResult, error) {
	fields := logrus.Fields{"url": args.URL}
	o.started("healthcheck", fields)

	timeout := time.Duration(args.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = time.Duration(o.cfg.HealthCheckTimeout) * time.Second
	}
	interval := time.Duration(args.Interval * float64(time.Second))
	expected := args.ExpectedStatus
	if expected == 0 {
		expected = 200
	}

	start := time.Now()
	result, err := health.Check(ctx, args.URL, health.Options{
		Timeout:        timeout,
		Interval:       interval,
		Backoff:        args.Backoff,
		ExpectedStatus: expected,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		o.failed("healthcheck", err, fields)
		return nil, err
	}
	o.metrics.HealthcheckAttempts.Add(float64(result.Retries + 1))

	if !result.Healthy {
		err := cicderr.New(cicderr.KindHealthCheck,
			fmt.Sprintf("healthcheck did not succeed within deadline: %s", result.Error),
			map[string]any{"url": args.URL, "attempts": result.Retries + 1, "elapsed_seconds": elapsed})
		o.failed("healthcheck", err, fields)
		return nil, err
	}

	out := &HealthcheckResult{
		Healthy:        true,
		ResponseCode:   result.ResponseCode,
		Attempts:       result.Retries + 1,
		ElapsedSeconds: elapsed,
	}
	fields["response_code"] = out.ResponseCode
	o.completed("healthcheck", fields)
	return out, nil
}

// GetLogsArgs / Result mirror spec.md's get_logs tool.
type GetLogsArgs struct {
	ContainerName string `json:"container_name"`
	Tail          int    `json:"tail"`
}

type GetLogsResult struct {
	ContainerName string `json:"container_name"`
	Logs          string `json:"logs"`
	LinesReturned int    `json:"lines_returned"`
}

// GetLogs returns the recent log tail of a running container.
func (o *Orchestrator) GetLogs(ctx context.Context, args GetLogsArgs) (*GetLogsResult, error) {
	tail := args.Tail
	if tail == 0 {
		tail = 100
	}

	fields := logrus.Fields{"container_name": args.ContainerName, "tail": tail}
	o.started("get_logs", fields)

	logs, err := o.container.Logs(ctx, args.ContainerName, tail)
	if err != nil {
		o.failed("get_logs", err, fields)
		return nil, err
	}

	out := &GetLogsResult{
		ContainerName: args.ContainerName,
		Logs:          logs,
		LinesReturned: countLines(logs),
	}
	o.completed("get_logs", fields)
	return out, nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}

// StopDeploymentArgs / Result mirror spec.md's stop_deployment tool.
type StopDeploymentArgs struct {
	ContainerName string `json:"container_name"`
}

type StopDeploymentResult struct {
	ContainerName string `json:"container_name"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// StopDeployment gracefully stops and removes a running container.
func (o *Orchestrator) StopDeployment(ctx context.Context, args StopDeploymentArgs) (*StopDeploymentResult, error) {
	fields := logrus.Fields{"container_name": args.ContainerName}
	o.started("stop_deployment", fields)

	if err := o.container.Stop(ctx, args.ContainerName); err != nil {
		o.failed("stop_deployment", err, fields)
		return nil, err
	}

	out := &StopDeploymentResult{
		ContainerName: args.ContainerName,
		Status:        "stopped",
		Message:       fmt.Sprintf("container %s stopped and removed", args.ContainerName),
	}
	o.completed("stop_deployment", fields)
	return out, nil
}

// RollbackArgs / Result mirror spec.md's rollback tool.
type RollbackArgs struct {
	DeploymentID string `json:"deployment_id"`
	RepoURL      string `json:"repo_url"`
}

type RollbackResult struct {
	DeploymentID  string `json:"deployment_id"`
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	HostPort      int    `json:"host_port"`
	RollbackFrom  string `json:"rollback_from,omitempty"`
	Status        string `json:"status"`
}

// Rollback restores the most recent previously-running deployment for a
// repository, implementing spec.md §4.8's six-step algorithm, including
// the port-selection branch: the failed record's host_port is reused when
// deployment_id is given, the previous record's host_port is reused when
// only repo_url is given.
func (o *Orchestrator) Rollback(ctx context.Context, args RollbackArgs) (*RollbackResult, error) {
	fields := logrus.Fields{"deployment_id": args.DeploymentID, "repo_url": args.RepoURL}
	o.started("rollback", fields)

	if args.DeploymentID == "" && args.RepoURL == "" {
		err := cicderr.New(cicderr.KindValidation,
			"rollback requires either deployment_id or repo_url", nil)
		o.failed("rollback", err, fields)
		return nil, err
	}

	var failed *models.DeploymentRecord
	targetRepoURL := args.RepoURL
	excludeID := ""

	if args.DeploymentID != "" {
		var err error
		failed, err = o.store.Load(args.DeploymentID)
		if err != nil {
			o.failed("rollback", err, fields)
			return nil, err
		}
		if failed == nil {
			err := cicderr.New(cicderr.KindRollback,
				"deployment not found: "+args.DeploymentID,
				map[string]any{"deployment_id": args.DeploymentID})
			o.failed("rollback", err, fields)
			return nil, err
		}
		targetRepoURL = failed.RepoURL
		excludeID = failed.DeploymentID
	}

	previous, err := o.store.FindLatestSuccessful(targetRepoURL, excludeID)
	if err != nil {
		o.failed("rollback", err, fields)
		return nil, err
	}
	if previous == nil {
		err := cicderr.New(cicderr.KindRollback,
			"no previous successful deployment found",
			map[string]any{"repo_url": targetRepoURL})
		o.failed("rollback", err, fields)
		return nil, err
	}

	if failed != nil && failed.ContainerName != "" {
		if err := o.container.Stop(ctx, failed.ContainerName); err != nil {
			o.log.WithFields(logrus.Fields{"container_name": failed.ContainerName, "error": err.Error()}).
				Warn("failed to stop previous container during rollback; continuing")
		}
	}

	// Open-question branch (SPEC_FULL.md §9): the port comes from the
	// failed record when a deployment_id was given, from the previous
	// record otherwise.
	rollbackPort := previous.HostPort
	if failed != nil {
		rollbackPort = failed.HostPort
	}

	rollbackID := fmt.Sprintf("dep-%s-rollback-%s", time.Now().UTC().Format("20060102"), previous.CommitSHA[:min(7, len(previous.CommitSHA))])
	containerName := fmt.Sprintf("%s-rollback-%s-p%d", imageBaseName(previous.ImageTag), previous.CommitSHA[:min(7, len(previous.CommitSHA))], rollbackPort)

	memLimit, err := config.MemoryLimitBytes(o.cfg.ContainerMemoryLimit)
	if err != nil {
		err = cicderr.Wrap(cicderr.KindConfiguration, err, "invalid configured memory limit", nil)
		o.failed("rollback", err, fields)
		return nil, err
	}

	containerID, err := o.container.Deploy(ctx, previous.ImageTag, containerName, rollbackPort, previous.ContainerPort, nil, memLimit)
	if err != nil {
		o.failed("rollback", err, fields)
		return nil, err
	}

	now := time.Now().UTC()
	record := &models.DeploymentRecord{
		DeploymentID:  rollbackID,
		RepoURL:       previous.RepoURL,
		Branch:        previous.Branch,
		CommitSHA:     previous.CommitSHA,
		ProjectType:   previous.ProjectType,
		ImageTag:      previous.ImageTag,
		ContainerName: containerName,
		ContainerID:   containerID,
		HostPort:      rollbackPort,
		ContainerPort: previous.ContainerPort,
		Status:        models.StatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
		StartedAt:     &now,
		CompletedAt:   &now,
		RollbackFrom:  args.DeploymentID,
	}
	if err := o.store.Save(record); err != nil {
		o.failed("rollback", err, fields)
		return nil, err
	}
	o.metrics.DeploymentsTotal.WithLabelValues("rolled_back").Inc()

	out := &RollbackResult{
		DeploymentID:  rollbackID,
		ContainerID:   containerID,
		ContainerName: containerName,
		HostPort:      rollbackPort,
		RollbackFrom:  args.DeploymentID,
		Status:        string(models.StatusRunning),
	}
	fields["rollback_id"] = rollbackID
	o.completed("rollback", fields)
	return out, nil
}

func imageBaseName(imageTag string) string {
	for i := 0; i < len(imageTag); i++ {
		if imageTag[i] == ':' {
			return imageTag[:i]
		}
	}
	return imageTag
}
