package provision

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/kokoro-deploy/internal/core"
	"github.com/book-expert/kokoro-deploy/internal/fileutil"
)

// ExecRunner implements core.CommandRunner with os/exec. The failure error
// wraps the *exec.ExitError so callers can recover the child's exit status.
type ExecRunner struct {
	log *logger.Logger
}

// NewExecRunner creates a runner that logs every invocation.
func NewExecRunner(log *logger.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// Run executes name with args in dir and returns the combined output. An
// empty dir runs the command in the current working directory.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	r.log.Info("Running %s %s", name, strings.Join(args, " "))

	// #nosec G204 -- command names and arguments are fixed by the provisioning steps
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf(
			"%s %s failed: %w - output: %s",
			name, strings.Join(args, " "), err, string(output),
		)
	}

	return output, nil
}

// Git manages the engine checkout through the git binary.
type Git struct {
	runner core.CommandRunner
	log    *logger.Logger
}

// NewGit creates a Git helper on top of the given runner.
func NewGit(runner core.CommandRunner, log *logger.Logger) *Git {
	return &Git{
		runner: runner,
		log:    log,
	}
}

// Cloned reports whether dir already holds a git checkout.
func (g *Git) Cloned(dir string) bool {
	return fileutil.DirExists(filepath.Join(dir, ".git"))
}

// Ensure clones the repository into dir on first use and refreshes an
// existing checkout with a fast-forward pull on later runs.
func (g *Git) Ensure(ctx context.Context, url, ref, dir string) error {
	if g.Cloned(dir) {
		g.log.Info("Checkout %s exists, pulling", dir)

		_, err := g.runner.Run(ctx, dir, "git", "pull", "--ff-only")
		if err != nil {
			return fmt.Errorf("failed to update checkout %s: %w", dir, err)
		}

		return nil
	}

	err := fileutil.EnsureDir(filepath.Dir(dir))
	if err != nil {
		return err
	}

	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}

	args = append(args, url, dir)

	g.log.Info("Cloning %s (ref %s) into %s", url, ref, dir)

	_, err = g.runner.Run(ctx, "", "git", args...)
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", url, err)
	}

	return nil
}
