package manifest

import (
	"fmt"
	"os/exec"
	"strings"
)

// runGit runs git in dir and returns its trimmed standard output. Failures
// carry git's combined output so clone and checkout errors are readable.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	log.Debugf("git %s (in %s)", strings.Join(args, " "), dir)
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), msg, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func gitClone(url, dest string) error {
	_, err := runGit("", "clone", "--quiet", url, dest)
	return err
}

// gitCheckout checks out a tag, branch or commit as a detached head.
func gitCheckout(dir, ref string) error {
	_, err := runGit(dir, "-c", "advice.detachedHead=false", "checkout", "--quiet", ref)
	return err
}

func gitFetch(dir string) error {
	_, err := runGit(dir, "fetch", "--quiet", "--all", "--tags")
	return err
}

func gitCurrentCommit(dir string) (string, error) {
	return runGit(dir, "rev-parse", "HEAD")
}
