package imagebuild

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CloneFunc fetches repoURL into dest.
type CloneFunc func(ctx context.Context, repoURL, dest string) error

// Clone shallow-clones the repository into the provided destination directory.
func Clone(ctx context.Context, repoURL, dest string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, ".")
	cmd.Dir = dest
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// IsGitURL reports whether source names a remote repository rather than a
// local directory.
func IsGitURL(source string) bool {
	s := strings.TrimSpace(source)
	for _, prefix := range []string{"https://", "http://", "ssh://", "git://", "git@"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
