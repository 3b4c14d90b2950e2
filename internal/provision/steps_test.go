package provision_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/kokoro-deploy/internal/config"
	"github.com/book-expert/kokoro-deploy/internal/core"
	"github.com/book-expert/kokoro-deploy/internal/fileutil"
	"github.com/book-expert/kokoro-deploy/internal/patch"
	"github.com/book-expert/kokoro-deploy/internal/provision"
)

var (
	errMockFetch     = errors.New("mock fetch error")
	errMockSynthesis = errors.New("mock synthesis error")
)

const patchableScript = `#!/usr/bin/env python3
import sounddevice as sd
import soundfile as sf

def play_audio(audio, rate):
    sd.play(audio, rate)
    sd.wait()
`

// scriptedRunner plays the part of git and pip: it records every command and
// materializes a checkout when it sees a clone.
type scriptedRunner struct {
	cfg        *config.Config
	scriptBody string
	calls      []string
	failOn     string
}

func (r *scriptedRunner) Run(_ context.Context, _, name string, args ...string) ([]byte, error) {
	call := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, call)

	if r.failOn != "" && strings.Contains(call, r.failOn) {
		return nil, errMockCommand
	}

	if name == "git" && len(args) > 0 && args[0] == "clone" {
		return []byte("ok"), r.materializeCheckout()
	}

	return []byte("ok"), nil
}

func (r *scriptedRunner) materializeCheckout() error {
	installDir := r.cfg.Kokoro.InstallDir

	err := os.MkdirAll(filepath.Join(installDir, ".git"), 0o750)
	if err != nil {
		return err
	}

	err = os.WriteFile(r.cfg.ScriptPath(), []byte(r.scriptBody), 0o644)
	if err != nil {
		return err
	}

	requirements := filepath.Join(installDir, "requirements.txt")

	return os.WriteFile(requirements, []byte("onnxruntime\nsoundfile\n"), 0o600)
}

// mockFetcher counts downloads and writes placeholder artifact bytes.
type mockFetcher struct {
	fetchShouldFail bool
	calls           int
}

func (m *mockFetcher) Fetch(_ context.Context, _, dest, _ string) error {
	if m.fetchShouldFail {
		return errMockFetch
	}

	m.calls++

	return os.WriteFile(dest, []byte(modelBytes), 0o600)
}

// mockSynthesizer stands in for the kokoro engine during the smoke test.
type mockSynthesizer struct {
	synthesizeShouldFail bool
	calls                int
	lastRequest          core.SpeechRequest
}

func (m *mockSynthesizer) Synthesize(
	_ context.Context,
	req core.SpeechRequest,
) (*core.SpeechResult, error) {
	if m.synthesizeShouldFail {
		return nil, errMockSynthesis
	}

	m.calls++
	m.lastRequest = req

	return &core.SpeechResult{OutputPath: "/tmp/tts_smoke.wav", Size: 42}, nil
}

func newBootstrapDeps(t *testing.T) (
	*config.Config,
	*scriptedRunner,
	*mockFetcher,
	*mockSynthesizer,
	*provision.Provisioner,
) {
	t.Helper()

	base := t.TempDir()

	var cfg config.Config

	cfg.Paths.BaseLogsDir = filepath.Join(base, "logs")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.ApplyDefaults()

	runner := &scriptedRunner{cfg: &cfg, scriptBody: patchableScript, calls: nil, failOn: ""}
	fetcher := &mockFetcher{fetchShouldFail: false, calls: 0}
	synth := &mockSynthesizer{
		synthesizeShouldFail: false,
		calls:                0,
		lastRequest: core.SpeechRequest{
			Text:       "",
			InputPath:  "",
			Voice:      "",
			Speed:      0,
			Format:     "",
			OutputPath: "",
		},
	}

	prov, err := provision.NewWithDeps(&cfg, runner, fetcher, synth, newTestLogger(t))
	require.NoError(t, err)

	return &cfg, runner, fetcher, synth, prov
}

func TestBootstrapProvisionsFreshHost(t *testing.T) {
	t.Parallel()

	cfg, runner, fetcher, synth, prov := newBootstrapDeps(t)

	report, err := prov.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Succeeded())

	for _, result := range report.Results {
		assert.Equal(t, provision.StatusOK, result.Status, result.Name)
	}

	assert.DirExists(t, cfg.Kokoro.InstallDir)
	assert.True(t, fileutil.IsExecutable(cfg.ScriptPath()))

	script, err := os.ReadFile(cfg.ScriptPath())
	require.NoError(t, err)
	assert.Contains(t, string(script), "sd = None")
	assert.FileExists(t, cfg.ScriptPath()+patch.BackupSuffix)

	for _, artifact := range cfg.Kokoro.Artifacts {
		assert.True(t, fileutil.NonEmptyFile(cfg.ArtifactPath(artifact)), artifact.Filename)
	}

	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, 1, synth.calls)
	assert.Equal(t, cfg.Bootstrap.SmokeTestText, synth.lastRequest.Text)
	assert.Equal(t, cfg.Bootstrap.SmokeTestVoice, synth.lastRequest.Voice)
	assert.Contains(t, runner.calls, "python3 -m pip install -r "+cfg.RequirementsPath())
}

func TestBootstrapSecondRunSkipsDoneWork(t *testing.T) {
	t.Parallel()

	_, runner, fetcher, synth, prov := newBootstrapDeps(t)

	_, err := prov.Bootstrap(context.Background())
	require.NoError(t, err)

	secondReport, err := prov.Bootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls, "present artifacts must not be fetched again")
	assert.Contains(t, runner.calls, "git pull --ff-only")

	for _, name := range []string{"models", "permissions", "headless-patch"} {
		result := secondReport.Result(name)
		require.NotNil(t, result, name)
		assert.Equal(t, provision.StatusSkipped, result.Status, name)
	}

	assert.Equal(t, 2, synth.calls, "the smoke test runs on every invocation")
}

func TestBootstrapAbortsWhenFetchFails(t *testing.T) {
	t.Parallel()

	_, _, fetcher, synth, prov := newBootstrapDeps(t)
	fetcher.fetchShouldFail = true

	report, err := prov.Bootstrap(context.Background())
	require.ErrorIs(t, err, errMockFetch)
	assert.False(t, report.Succeeded())

	assert.Equal(t, provision.StatusFailed, report.Result("models").Status)

	for _, name := range []string{"permissions", "headless-patch", "smoke-test"} {
		assert.Equal(t, provision.StatusNotRun, report.Result(name).Status, name)
	}

	assert.Equal(t, 0, synth.calls, "no smoke artifact may be produced after an abort")
}

func TestBootstrapAbortsWhenToolingMissing(t *testing.T) {
	t.Parallel()

	_, runner, fetcher, _, prov := newBootstrapDeps(t)
	runner.failOn = "--version"

	report, err := prov.Bootstrap(context.Background())
	require.ErrorIs(t, err, errMockCommand)

	assert.Equal(t, provision.StatusFailed, report.Result("tooling").Status)
	assert.Equal(t, provision.StatusNotRun, report.Result("checkout").Status)
	assert.Equal(t, 0, fetcher.calls)
}

func TestBootstrapContinuesPastPatchMiss(t *testing.T) {
	t.Parallel()

	_, runner, _, synth, prov := newBootstrapDeps(t)
	runner.scriptBody = "#!/usr/bin/env python3\nimport soundfile\n"

	report, err := prov.Bootstrap(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Succeeded())
	assert.Equal(t, []string{"headless-patch"}, report.BestEffortFailures())
	assert.Equal(t, provision.StatusFailed, report.Result("headless-patch").Status)
	assert.Equal(t, provision.StatusOK, report.Result("smoke-test").Status)
	assert.Equal(t, 1, synth.calls, "the smoke test still runs after a patch miss")
}

func TestBootstrapSmokeFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	_, _, _, synth, prov := newBootstrapDeps(t)
	synth.synthesizeShouldFail = true

	report, err := prov.Bootstrap(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Succeeded())
	assert.Equal(t, provision.StatusFailed, report.Result("smoke-test").Status)
}

func TestBootstrapSmokeFailureFatalWhenConfigured(t *testing.T) {
	t.Parallel()

	cfg, _, _, synth, prov := newBootstrapDeps(t)
	cfg.Bootstrap.SmokeTestFatal = true
	synth.synthesizeShouldFail = true

	report, err := prov.Bootstrap(context.Background())
	require.ErrorIs(t, err, errMockSynthesis)
	assert.False(t, report.Succeeded())
}

func TestStatusReflectsProvisioning(t *testing.T) {
	t.Parallel()

	cfg, _, _, _, prov := newBootstrapDeps(t)
	ctx := context.Background()

	assert.False(t, prov.Status(ctx, false).Healthy())

	_, err := prov.Bootstrap(ctx)
	require.NoError(t, err)

	assert.True(t, prov.Status(ctx, false).Healthy())

	cfg.Kokoro.Artifacts[0].SHA256 = sumOf(modelBytes)
	assert.True(t, prov.Status(ctx, true).Healthy())

	cfg.Kokoro.Artifacts[0].SHA256 = sumOf("corrupted")
	assert.False(t, prov.Status(ctx, true).Healthy())
}

func TestKokoroHeadlessRulesTransformScript(t *testing.T) {
	t.Parallel()

	patcher, err := patch.New(provision.KokoroHeadlessRules())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "kokoro-tts")
	err = os.WriteFile(path, []byte(patchableScript), 0o755)
	require.NoError(t, err)

	report, err := patcher.Apply(path)
	require.NoError(t, err)
	assert.True(t, report.Applied())

	patched, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, string(patched), "except (ImportError, OSError):")
	assert.Contains(t, string(patched), "sd is not None and sd.play(")
	assert.Contains(t, string(patched), "sd is not None and sd.wait(")

	applied, err := patcher.AppliedAll(path)
	require.NoError(t, err)
	assert.True(t, applied)
}
