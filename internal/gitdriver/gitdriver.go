// Package gitdriver implements repository preparation (spec.md §4.2): shallow
// clone, ref checkout, and commit metadata extraction, using
// go-git instead of shelling out to the git binary. Grounded on
// _examples/OkGeneraL-Agent/internal/git/git.go (PlainCloneContext,
// Worktree().Pull/Checkout, Head()/CommitObject usage) and on
// original_source/.../utils/git_utils.py for sanitization and
// shallow-clone semantics.
package gitdriver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"mcp-cicd-agent/internal/cicderr"
)

var (
	dangerousURLChars = regexp.MustCompile("[;&|`$\\n]")
	sanitizeRunPattern = regexp.MustCompile(`[^a-z0-9-]+`)
	sshURLPattern      = regexp.MustCompile(`^[\w.-]+@[\w.-]+:.+$`)
)

// CommitMetadata describes the checked-out commit, mirroring the dataclass
// the original implementation extracts after checkout.
type CommitMetadata struct {
	SHA       string    `json:"sha"`
	ShortSHA  string    `json:"short_sha"`
	Branch    string    `json:"branch"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Driver prepares repositories under a workspace root.
type Driver struct {
	WorkspaceRoot   string
	AllowedHosts    []string
	GitHubToken     string
}

// New constructs a Driver rooted at workspaceRoot.
func New(workspaceRoot string, allowedHosts []string, githubToken string) *Driver {
	return &Driver{WorkspaceRoot: workspaceRoot, AllowedHosts: allowedHosts, GitHubToken: githubToken}
}

// ValidateURL rejects shell-metacharacters and URLs whose host is not on
// the configured allowlist.
func (d *Driver) ValidateURL(repoURL string) error {
	if dangerousURLChars.MatchString(repoURL) {
		return cicderr.New(cicderr.KindValidation,
			"repository URL contains disallowed characters",
			map[string]any{"repo_url": repoURL})
	}
	host := extractHost(repoURL)
	if host == "" {
		return cicderr.New(cicderr.KindValidation,
			"could not determine host from repository URL",
			map[string]any{"repo_url": repoURL})
	}
	if len(d.AllowedHosts) > 0 && !hostAllowed(host, d.AllowedHosts) {
		return cicderr.New(cicderr.KindValidation,
			fmt.Sprintf("git host not allowed: %s", host),
			map[string]any{"host": host, "allowed": d.AllowedHosts})
	}
	return nil
}

func extractHost(repoURL string) string {
	if sshURLPattern.MatchString(repoURL) {
		at := strings.Index(repoURL, "@")
		colon := strings.Index(repoURL[at+1:], ":")
		if at >= 0 && colon >= 0 {
			return repoURL[at+1 : at+1+colon]
		}
	}
	for _, prefix := range []string{"https://", "http://", "ssh://"} {
		if strings.HasPrefix(repoURL, prefix) {
			rest := repoURL[len(prefix):]
			if idx := strings.IndexAny(rest, "/:"); idx >= 0 {
				rest = rest[:idx]
			}
			if idx := strings.Index(rest, "@"); idx >= 0 {
				rest = rest[idx+1:]
			}
			return rest
		}
	}
	return ""
}

func hostAllowed(host string, allowed []string) bool {
	for _, h := range allowed {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// SanitizeRepoName derives a filesystem-safe directory name from the last
// path segment of a repository URL: strip ".git", lowercase, and replace
// any run of non [a-z0-9-] characters with a single hyphen. Ground truth:
// original_source/.../utils/git_utils.py WorkspaceManager.sanitize_repo_name.
func SanitizeRepoName(repoURL string) string {
	segment := repoURL
	if idx := strings.LastIndexAny(segment, "/:"); idx >= 0 {
		segment = segment[idx+1:]
	}
	segment = strings.TrimSuffix(segment, ".git")
	segment = strings.ToLower(segment)
	segment = sanitizeRunPattern.ReplaceAllString(segment, "-")
	segment = strings.Trim(segment, "-")
	if segment == "" {
		segment = "repo"
	}
	return segment
}

// PrepareResult is the outcome of preparing a repository checkout.
type PrepareResult struct {
	Path   string
	Commit CommitMetadata
}

// PrepareRepository makes a fresh shallow clone of repoURL, checks out ref,
// moves it into a final directory keyed by the sanitized repo name and the
// first 12 characters of the checked-out commit's SHA, and returns the
// commit metadata. An existing checkout is never reused or updated: a final
// directory that already exists is removed and replaced. Clones land in a
// per-call randomly-suffixed temp directory before being renamed into
// place, so two concurrent calls targeting the same repo never race on a
// shared clone path (the original implementation's shared "temp_clone"
// directory has exactly that race).
func (d *Driver) PrepareRepository(ctx context.Context, repoURL, ref string) (*PrepareResult, error) {
	if err := d.ValidateURL(repoURL); err != nil {
		return nil, err
	}

	suffix, err := randomHex(8)
	if err != nil {
		return nil, cicderr.Wrap(cicderr.KindGitOperation, err, "failed to generate temp directory name", nil)
	}
	tempDir := filepath.Join(d.WorkspaceRoot, ".tmp-clone-"+suffix)
	defer os.RemoveAll(tempDir)

	auth, err := d.authMethod(repoURL)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainCloneContext(ctx, tempDir, false, &git.CloneOptions{
		URL:   repoURL,
		Auth:  auth,
		Depth: 1,
	})
	if err != nil {
		return nil, cicderr.Wrap(cicderr.KindClone, err,
			"failed to clone repository", map[string]any{"repo_url": repoURL})
	}

	if err := checkoutRef(ctx, repo, ref, auth); err != nil {
		return nil, err
	}

	commit, err := extractCommitMetadata(repo)
	if err != nil {
		return nil, cicderr.Wrap(cicderr.KindCheckout, err,
			"failed to read commit metadata", map[string]any{"ref": ref})
	}

	repoName := SanitizeRepoName(repoURL)
	pathSegment := commit.SHA
	if len(pathSegment) > 12 {
		pathSegment = pathSegment[:12]
	}
	finalDir := filepath.Join(d.WorkspaceRoot, repoName, pathSegment)
	if _, err := os.Stat(finalDir); err == nil {
		if err := os.RemoveAll(finalDir); err != nil {
			return nil, cicderr.Wrap(cicderr.KindGitOperation, err,
				"failed to clear stale checkout directory", map[string]any{"path": finalDir})
		}
	}
	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		return nil, cicderr.Wrap(cicderr.KindGitOperation, err,
			"failed to create repository parent directory", map[string]any{"path": finalDir})
	}
	if err := os.Rename(tempDir, finalDir); err != nil {
		return nil, cicderr.Wrap(cicderr.KindGitOperation, err,
			"failed to move checkout into place", map[string]any{"path": finalDir})
	}

	return &PrepareResult{Path: finalDir, Commit: *commit}, nil
}

func checkoutRef(ctx context.Context, repo *git.Repository, ref string, auth transport.AuthMethod) error {
	wt, err := repo.Worktree()
	if err != nil {
		return cicderr.Wrap(cicderr.KindCheckout, err, "failed to open worktree", nil)
	}

	// A shallow clone only fetches the default branch; checking out any
	// other ref requires fetching it explicitly first.
	remote, err := repo.Remote("origin")
	if err == nil {
		refSpec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", ref, ref))
		_ = remote.FetchContext(ctx, &git.FetchOptions{
			Auth:     auth,
			RefSpecs: []config.RefSpec{refSpec},
			Depth:    1,
		})
	}

	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewRemoteReferenceName("origin", ref),
		plumbing.NewTagReferenceName(ref),
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: candidate, Force: true}); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref), Force: true}); err == nil {
		return nil
	} else {
		lastErr = err
	}

	return cicderr.Wrap(cicderr.KindCheckout, lastErr,
		fmt.Sprintf("failed to checkout ref %q", ref), map[string]any{"ref": ref})
}

func extractCommitMetadata(repo *git.Repository) (*CommitMetadata, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, err
	}
	sha := commit.Hash.String()
	short := sha
	if len(short) > 7 {
		short = short[:7]
	}
	branch := "detached"
	if name := head.Name(); name.IsBranch() {
		branch = name.Short()
	}
	return &CommitMetadata{
		SHA:       sha,
		ShortSHA:  short,
		Branch:    branch,
		Author:    commit.Author.Name,
		Email:     commit.Author.Email,
		Message:   strings.TrimSpace(commit.Message),
		Timestamp: commit.Author.When.UTC(),
	}, nil
}

// authMethod selects HTTP basic auth (using the configured GitHub token)
// for github.com HTTPS URLs, SSH agent auth for ssh/git@ URLs, or no auth
// for anonymous HTTPS.
func (d *Driver) authMethod(repoURL string) (transport.AuthMethod, error) {
	if sshURLPattern.MatchString(repoURL) || strings.HasPrefix(repoURL, "ssh://") {
		auth, err := gitssh.NewSSHAgentAuth("git")
		if err != nil {
			return nil, cicderr.Wrap(cicderr.KindGitOperation, err,
				"failed to set up SSH agent auth", nil)
		}
		return auth, nil
	}
	if strings.Contains(repoURL, "github.com") && d.GitHubToken != "" {
		return &githttp.BasicAuth{Username: "x-access-token", Password: d.GitHubToken}, nil
	}
	return nil, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
