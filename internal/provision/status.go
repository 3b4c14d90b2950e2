package provision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/kokoro-deploy/internal/fileutil"
)

// Check is one environment inspection result.
type Check struct {
	// Name identifies the inspected piece.
	Name string
	// OK reports whether the piece is in its provisioned state.
	OK bool
	// Mandatory marks pieces the engine cannot run without. Advisory
	// checks (the headless patch) never fail the overall status.
	Mandatory bool
	// Detail is a human-readable state description.
	Detail string
}

// StatusReport is the outcome of a non-mutating environment inspection.
type StatusReport struct {
	Checks []Check
}

// Healthy reports whether every mandatory check passed.
func (r *StatusReport) Healthy() bool {
	for _, check := range r.Checks {
		if check.Mandatory && !check.OK {
			return false
		}
	}

	return true
}

// Status inspects the provisioned environment without mutating it: the same
// probes the bootstrap uses to skip steps, reported instead of acted on.
// With verify set, artifacts carrying a configured digest are re-hashed.
func (p *Provisioner) Status(ctx context.Context, verify bool) *StatusReport {
	report := &StatusReport{Checks: nil}

	for _, probe := range toolingProbes {
		report.Checks = append(report.Checks, p.toolingCheck(ctx, probe))
	}

	report.Checks = append(report.Checks, p.checkoutCheck(), p.scriptCheck())

	for _, artifact := range p.cfg.Kokoro.Artifacts {
		report.Checks = append(report.Checks, p.artifactCheck(artifact.Filename, verify))
	}

	report.Checks = append(report.Checks, p.patchCheck())

	return report
}

func (p *Provisioner) toolingCheck(ctx context.Context, probe []string) Check {
	name := strings.Join(probe, " ")

	output, err := p.runner.Run(ctx, "", probe[0], probe[1:]...)
	if err != nil {
		return Check{Name: name, OK: false, Mandatory: true, Detail: err.Error()}
	}

	return Check{Name: name, OK: true, Mandatory: true, Detail: firstLine(output)}
}

func (p *Provisioner) checkoutCheck() Check {
	dir := p.cfg.Kokoro.InstallDir
	if !p.git.Cloned(dir) {
		return Check{
			Name:      StepCheckout,
			OK:        false,
			Mandatory: true,
			Detail:    fmt.Sprintf("no checkout at %s", dir),
		}
	}

	return Check{Name: StepCheckout, OK: true, Mandatory: true, Detail: dir}
}

func (p *Provisioner) scriptCheck() Check {
	path := p.cfg.ScriptPath()

	_, statErr := os.Stat(path)
	if statErr != nil {
		return Check{
			Name:      "script",
			OK:        false,
			Mandatory: true,
			Detail:    fmt.Sprintf("missing at %s", path),
		}
	}

	if !fileutil.IsExecutable(path) {
		return Check{
			Name:      "script",
			OK:        false,
			Mandatory: true,
			Detail:    fmt.Sprintf("%s is not executable", path),
		}
	}

	return Check{Name: "script", OK: true, Mandatory: true, Detail: path}
}

func (p *Provisioner) artifactCheck(filename string, verify bool) Check {
	name := "artifact " + filename

	var artifactSum string

	path := ""

	for _, artifact := range p.cfg.Kokoro.Artifacts {
		if artifact.Filename == filename {
			path = p.cfg.ArtifactPath(artifact)
			artifactSum = artifact.SHA256
		}
	}

	info, statErr := os.Stat(path)
	if statErr != nil || info.Size() == 0 {
		return Check{
			Name:      name,
			OK:        false,
			Mandatory: true,
			Detail:    fmt.Sprintf("missing or empty at %s", path),
		}
	}

	detail := fileutil.FormatFileSize(info.Size())

	if verify && artifactSum != "" {
		actual, hashErr := HashFile(path)
		if hashErr != nil {
			return Check{Name: name, OK: false, Mandatory: true, Detail: hashErr.Error()}
		}

		if !strings.EqualFold(actual, artifactSum) {
			return Check{
				Name:      name,
				OK:        false,
				Mandatory: true,
				Detail:    fmt.Sprintf("sha256 mismatch: got %s, want %s", actual, artifactSum),
			}
		}

		detail += ", sha256 verified"
	}

	return Check{Name: name, OK: true, Mandatory: true, Detail: detail}
}

func (p *Provisioner) patchCheck() Check {
	applied, err := p.patcher.AppliedAll(p.cfg.ScriptPath())
	if err != nil {
		return Check{Name: StepHeadlessPatch, OK: false, Mandatory: false, Detail: err.Error()}
	}

	if !applied {
		return Check{Name: StepHeadlessPatch, OK: false, Mandatory: false, Detail: "not applied"}
	}

	return Check{Name: StepHeadlessPatch, OK: true, Mandatory: false, Detail: "applied"}
}

// firstLine trims command output down to its first line.
func firstLine(output []byte) string {
	text := strings.TrimSpace(string(output))

	line, _, found := strings.Cut(text, "\n")
	if found {
		return line
	}

	return text
}
