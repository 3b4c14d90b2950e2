package provision

import (
	"context"
	"fmt"
	"os"

	"github.com/book-expert/logger"

	"github.com/book-expert/kokoro-deploy/internal/config"
	"github.com/book-expert/kokoro-deploy/internal/core"
	"github.com/book-expert/kokoro-deploy/internal/engine"
	"github.com/book-expert/kokoro-deploy/internal/fileutil"
	"github.com/book-expert/kokoro-deploy/internal/patch"
)

// Step names, in execution order.
const (
	StepTooling       = "tooling"
	StepCheckout      = "checkout"
	StepPythonDeps    = "python-deps"
	StepModels        = "models"
	StepPermissions   = "permissions"
	StepHeadlessPatch = "headless-patch"
	StepSmokeTest     = "smoke-test"
)

// Commands whose presence the tooling step verifies.
var toolingProbes = [][]string{
	{"git", "--version"},
	{"python3", "--version"},
	{"python3", "-m", "pip", "--version"},
}

// KokoroHeadlessRules returns the substitutions that keep the vendored
// script usable on hosts without an audio device: the sounddevice import and
// its call sites degrade to no-ops instead of raising at import time.
func KokoroHeadlessRules() []patch.Rule {
	return []patch.Rule{
		{
			Name:        "guard-sounddevice-import",
			Pattern:     `(?m)^import sounddevice as sd$`,
			Replacement: "try:\n    import sounddevice as sd\nexcept (ImportError, OSError):\n    sd = None",
			Applied:     `except \(ImportError, OSError\):\n    sd = None`,
		},
		{
			Name:        "guard-sounddevice-calls",
			Pattern:     `(?m)^([ \t]*)sd\.(play|wait)\(`,
			Replacement: `${1}sd is not None and sd.${2}(`,
			Applied:     `sd is not None and sd\.`,
		},
	}
}

// Provisioner owns the collaborators of the bootstrap sequence and builds
// its steps.
type Provisioner struct {
	cfg     *config.Config
	runner  core.CommandRunner
	fetcher core.Fetcher
	synth   core.Synthesizer
	git     *Git
	patcher *patch.Patcher
	log     *logger.Logger
}

// New wires the production collaborators: the exec-backed runner, the HTTP
// fetcher, and the kokoro engine.
func New(cfg *config.Config, log *logger.Logger) (*Provisioner, error) {
	runner := NewExecRunner(log)

	return NewWithDeps(cfg, runner, NewHTTPFetcher(log), engine.New(cfg, log), log)
}

// NewWithDeps wires a Provisioner from explicit collaborators.
func NewWithDeps(
	cfg *config.Config,
	runner core.CommandRunner,
	fetcher core.Fetcher,
	synth core.Synthesizer,
	log *logger.Logger,
) (*Provisioner, error) {
	patcher, err := patch.New(KokoroHeadlessRules())
	if err != nil {
		return nil, fmt.Errorf("failed to compile headless patch rules: %w", err)
	}

	return &Provisioner{
		cfg:     cfg,
		runner:  runner,
		fetcher: fetcher,
		synth:   synth,
		git:     NewGit(runner, log),
		patcher: patcher,
		log:     log,
	}, nil
}

// Steps returns the bootstrap sequence in its fixed order.
func (p *Provisioner) Steps() []Step {
	return []Step{
		p.toolingStep(),
		p.checkoutStep(),
		p.pythonDepsStep(),
		p.modelsStep(),
		p.permissionsStep(),
		p.headlessPatchStep(),
		p.smokeTestStep(),
	}
}

// Bootstrap runs the full sequence against the configured target.
func (p *Provisioner) Bootstrap(ctx context.Context) (*Report, error) {
	err := p.cfg.EnsureDirectories()
	if err != nil {
		return nil, err
	}

	return NewSequencer(p.log, p.Steps()).Run(ctx)
}

// toolingStep verifies the external commands the later steps shell out to.
// It runs on every invocation; a missing interpreter is cheaper to catch
// here than halfway through a checkout.
func (p *Provisioner) toolingStep() Step {
	return Step{
		Name:   StepTooling,
		Policy: Fatal,
		Probe:  nil,
		Run: func(ctx context.Context) error {
			for _, probe := range toolingProbes {
				_, err := p.runner.Run(ctx, "", probe[0], probe[1:]...)
				if err != nil {
					return fmt.Errorf("required tooling missing: %w", err)
				}
			}

			return nil
		},
	}
}

// checkoutStep clones the engine repository or refreshes an existing clone.
func (p *Provisioner) checkoutStep() Step {
	return Step{
		Name:   StepCheckout,
		Policy: Fatal,
		Probe:  nil,
		Run: func(ctx context.Context) error {
			return p.git.Ensure(
				ctx,
				p.cfg.Kokoro.RepoURL,
				p.cfg.Kokoro.RepoRef,
				p.cfg.Kokoro.InstallDir,
			)
		},
	}
}

// pythonDepsStep installs the checkout's requirements file. Skipped when the
// checkout ships none; pip handles repeat installs itself.
func (p *Provisioner) pythonDepsStep() Step {
	return Step{
		Name:   StepPythonDeps,
		Policy: Fatal,
		Probe: func(_ context.Context) (bool, error) {
			path := p.cfg.RequirementsPath()

			return path == "" || !fileutil.FileExists(path), nil
		},
		Run: func(ctx context.Context) error {
			_, err := p.runner.Run(
				ctx,
				p.cfg.Kokoro.InstallDir,
				"python3", "-m", "pip", "install", "-r", p.cfg.RequirementsPath(),
			)
			if err != nil {
				return fmt.Errorf("failed to install python dependencies: %w", err)
			}

			return nil
		},
	}
}

// modelsStep downloads every missing model artifact. Presence of a non-empty
// file is the skip predicate; digests are only verified on fresh downloads.
func (p *Provisioner) modelsStep() Step {
	return Step{
		Name:   StepModels,
		Policy: Fatal,
		Probe: func(_ context.Context) (bool, error) {
			for _, artifact := range p.cfg.Kokoro.Artifacts {
				if !fileutil.NonEmptyFile(p.cfg.ArtifactPath(artifact)) {
					return false, nil
				}
			}

			return true, nil
		},
		Run: func(ctx context.Context) error {
			for _, artifact := range p.cfg.Kokoro.Artifacts {
				dest := p.cfg.ArtifactPath(artifact)
				if fileutil.NonEmptyFile(dest) {
					p.log.Info("Artifact %s already present", artifact.Filename)

					continue
				}

				err := p.fetcher.Fetch(ctx, artifact.URL, dest, artifact.SHA256)
				if err != nil {
					return fmt.Errorf("failed to fetch artifact %s: %w", artifact.Filename, err)
				}
			}

			return nil
		},
	}
}

// permissionsStep ensures the executable bit on the vendored script.
func (p *Provisioner) permissionsStep() Step {
	return Step{
		Name:   StepPermissions,
		Policy: Fatal,
		Probe: func(_ context.Context) (bool, error) {
			return fileutil.IsExecutable(p.cfg.ScriptPath()), nil
		},
		Run: func(_ context.Context) error {
			path := p.cfg.ScriptPath()

			info, statErr := os.Stat(path)
			if statErr != nil {
				return fmt.Errorf("failed to stat script %s: %w", path, statErr)
			}

			chmodErr := os.Chmod(path, info.Mode()|0o111)
			if chmodErr != nil {
				return fmt.Errorf("failed to set executable bit on %s: %w", path, chmodErr)
			}

			return nil
		},
	}
}

// headlessPatchStep rewrites the script so a missing audio device degrades
// playback instead of crashing. Best-effort: a drifted upstream must never
// block provisioning.
func (p *Provisioner) headlessPatchStep() Step {
	return Step{
		Name:   StepHeadlessPatch,
		Policy: BestEffort,
		Probe: func(_ context.Context) (bool, error) {
			return p.patcher.AppliedAll(p.cfg.ScriptPath())
		},
		Run: func(_ context.Context) error {
			report, err := p.patcher.Apply(p.cfg.ScriptPath())
			if report != nil {
				for _, result := range report.Results {
					p.log.Info(
						"Patch rule %s: %s (%d matches)",
						result.Name, result.Outcome, result.Matches,
					)
				}
			}

			return err
		},
	}
}

// smokeTestStep synthesizes a short fixed sample to prove the provisioned
// engine works end to end. The engine's own timeout bounds it.
func (p *Provisioner) smokeTestStep() Step {
	policy := BestEffort
	if p.cfg.Bootstrap.SmokeTestFatal {
		policy = Fatal
	}

	return Step{
		Name:   StepSmokeTest,
		Policy: policy,
		Probe:  nil,
		Run: func(ctx context.Context) error {
			result, err := p.synth.Synthesize(ctx, core.SpeechRequest{
				Text:       p.cfg.Bootstrap.SmokeTestText,
				InputPath:  "",
				Voice:      p.cfg.Bootstrap.SmokeTestVoice,
				Speed:      0,
				Format:     p.cfg.Bootstrap.SmokeTestFormat,
				OutputPath: "",
			})
			if err != nil {
				return fmt.Errorf("smoke synthesis failed: %w", err)
			}

			p.log.Info(
				"Smoke test wrote %s (%s)",
				result.OutputPath, fileutil.FormatFileSize(result.Size),
			)

			return nil
		},
	}
}
