package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/repolab/repotutor/pkg/types"
)

// Source is a parsed, normalized repository reference
type Source struct {
	Owner    string
	Name     string
	CloneURL string // normalized https form, used for cloning and identity
}

var (
	httpsPattern = regexp.MustCompile(`^https://github\.com/([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)
	sshPattern   = regexp.MustCompile(`^git@github\.com:([\w.-]+)/([\w.-]+?)(?:\.git)?$`)
)

// ParseSourceURL validates a GitHub repository reference and normalizes it
// to the canonical https clone URL. Both https and git@ forms are
// accepted; anything else returns *types.InvalidSourceError.
func ParseSourceURL(raw string) (*Source, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &types.InvalidSourceError{URL: raw, Reason: "empty URL"}
	}

	var owner, name string
	if m := httpsPattern.FindStringSubmatch(trimmed); m != nil {
		owner, name = m[1], m[2]
	} else if m := sshPattern.FindStringSubmatch(trimmed); m != nil {
		owner, name = m[1], m[2]
	} else {
		return nil, &types.InvalidSourceError{
			URL:    raw,
			Reason: "must be https://github.com/owner/name or git@github.com:owner/name",
		}
	}

	return &Source{
		Owner:    owner,
		Name:     name,
		CloneURL: fmt.Sprintf("https://github.com/%s/%s", owner, name),
	}, nil
}

// Fetcher clones repositories into a managed directory tree, one
// subdirectory per repository ID.
type Fetcher struct {
	reposDir string
	log      *slog.Logger
}

// New creates a fetcher rooted at reposDir.
func New(reposDir string, log *slog.Logger) *Fetcher {
	return &Fetcher{reposDir: reposDir, log: log}
}

// Dir returns the checkout path for a repository ID.
func (f *Fetcher) Dir(repoID string) string {
	return filepath.Join(f.reposDir, repoID)
}

// Fetch shallow-clones the source into the repository's directory and
// returns the checkout path and HEAD commit hash. Any existing checkout is
// replaced. On failure the partial checkout is removed and a
// *types.SourceFetchError is returned.
func (f *Fetcher) Fetch(ctx context.Context, src *Source, repoID string) (string, string, error) {
	dir := f.Dir(repoID)
	if err := os.RemoveAll(dir); err != nil {
		return "", "", fmt.Errorf("failed to clear checkout dir: %w", err)
	}
	if err := os.MkdirAll(f.reposDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create repos dir: %w", err)
	}

	f.log.Info("cloning repository", "url", src.CloneURL, "repo_id", repoID)

	// Shallow clone: only the latest commit is needed
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--quiet", src.CloneURL, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", &types.SourceFetchError{
			URL: src.CloneURL,
			Err: fmt.Errorf("git clone: %v: %s", err, strings.TrimSpace(string(out))),
		}
	}

	rev := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	out, err := rev.Output()
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", "", &types.SourceFetchError{
			URL: src.CloneURL,
			Err: fmt.Errorf("git rev-parse: %w", err),
		}
	}
	commit := strings.TrimSpace(string(out))

	return dir, commit, nil
}

// Delete removes a repository's checkout. Missing checkouts are not an
// error.
func (f *Fetcher) Delete(repoID string) error {
	if err := os.RemoveAll(f.Dir(repoID)); err != nil {
		return fmt.Errorf("failed to delete checkout: %w", err)
	}
	return nil
}

// DirSize returns the total size in bytes of regular files under path,
// excluding the .git metadata directory.
func DirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", path, err)
	}
	return total, nil
}
