// Package gitx shells out to git for the workflow's branch side effects.
package gitx

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes the git operations the workflow machine needs.
// The workflow depends on this interface so tests can stub git away.
type Runner interface {
	// CreateBranch creates and checks out a branch, or checks it out
	// if it already exists.
	CreateBranch(dir, name string) error

	// CommitLog returns the one-line log of commits on branch that are
	// not on base, oldest first.
	CommitLog(dir, base, branch string) ([]string, error)
}

// CLI runs git as a subprocess.
type CLI struct{}

// CreateBranch creates and switches to the branch. An existing branch is
// checked out rather than failing — restarting a ticket resumes its branch.
func (CLI) CreateBranch(dir, name string) error {
	if out, err := run(dir, "checkout", "-b", name); err != nil {
		// Branch may already exist from an earlier start.
		if strings.Contains(out, "already exists") {
			_, err = run(dir, "checkout", name)
		}
		if err != nil {
			return fmt.Errorf("creating branch %s: %w", name, err)
		}
	}
	return nil
}

// CommitLog returns `git log base..branch --oneline --reverse` lines.
func (CLI) CommitLog(dir, base, branch string) ([]string, error) {
	out, err := run(dir, "log", fmt.Sprintf("%s..%s", base, branch), "--oneline", "--reverse")
	if err != nil {
		return nil, fmt.Errorf("reading commit log: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stderr.String(), fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
