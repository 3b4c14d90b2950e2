// Package config provides the configuration structure for kokoro-deploy.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/kokoro-deploy/internal/fileutil"
)

// Defaults applied after load for fields left empty.
const (
	DefaultWorkDir        = "/opt/render/project/src"
	DefaultOutputDir      = "/tmp/tts_output"
	DefaultLogsDir        = "/tmp/kokoro-deploy/logs"
	DefaultRuntimeDir     = "/tmp/kokoro-deploy/runtime"
	DefaultRepoURL        = "https://github.com/nazdridoy/kokoro-tts.git"
	DefaultRepoRef        = "main"
	DefaultScriptName     = "kokoro-tts"
	DefaultVoice          = "af_sarah"
	DefaultSpeed          = 1.0
	DefaultFormat         = "wav"
	DefaultTimeoutSeconds = 120
	DefaultMaxTextChars   = 5000
	DefaultSmokeTestText  = "This is a deployment verification test."
	DefaultRequirements   = "requirements.txt"
	DefaultNATSURL        = "nats://127.0.0.1:4222"
	DefaultTextSubject    = "text.processed"
	DefaultAudioSubject   = "audio.chunk.created"
	DefaultTextBucket     = "TEXT_FILES"
	DefaultAudioBucket    = "AUDIO_FILES"
)

// Model artifact defaults. The two files ship alongside the kokoro-tts
// checkout and are fetched from the upstream release page.
const (
	defaultModelFilename  = "kokoro-v1.0.onnx"
	defaultModelURL       = "https://github.com/nazdridoy/kokoro-tts/releases/download/v1.0.0/kokoro-v1.0.onnx"
	defaultVoicesFilename = "voices-v1.0.bin"
	defaultVoicesURL      = "https://github.com/nazdridoy/kokoro-tts/releases/download/v1.0.0/voices-v1.0.bin"
)

// Static validation errors.
var (
	ErrRepoURLEmpty          = errors.New("kokoro repo_url cannot be empty")
	ErrNoArtifacts           = errors.New("at least one kokoro artifact is required")
	ErrArtifactFilenameEmpty = errors.New("artifact filename cannot be empty")
	ErrArtifactURLEmpty      = errors.New("artifact url cannot be empty")
	ErrTimeoutNotPositive    = errors.New("engine timeout_seconds must be positive")
	ErrSpeedNotPositive      = errors.New("engine default_speed must be positive")
	ErrMaxTextNotPositive    = errors.New("engine max_text_chars must be positive")
	ErrUnsupportedFormat     = errors.New("unsupported audio format")
)

// Audio containers the kokoro CLI can emit.
var supportedFormats = map[string]struct{}{
	"wav": {},
	"mp3": {},
}

// IsSupportedFormat reports whether the kokoro CLI can emit the given audio
// format.
func IsSupportedFormat(format string) bool {
	_, ok := supportedFormats[format]

	return ok
}

// PathsConfig holds the directory layout the tool works in.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	WorkDir     string `toml:"work_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Artifact identifies one opaque binary required by the engine: a target
// filename inside the checkout, its download URL, and an optional sha256
// digest verified on fresh downloads.
type Artifact struct {
	Filename string `toml:"filename"`
	URL      string `toml:"url"`
	SHA256   string `toml:"sha256"`
}

// KokoroConfig describes the external engine checkout.
type KokoroConfig struct {
	RepoURL    string     `toml:"repo_url"`
	RepoRef    string     `toml:"repo_ref"`
	InstallDir string     `toml:"install_dir"`
	ScriptName string     `toml:"script_name"`
	Artifacts  []Artifact `toml:"artifacts"`
}

// EngineConfig holds synthesis defaults and the child-process environment
// overrides. The overrides are never applied to this process, only to
// spawned engine invocations.
type EngineConfig struct {
	DefaultVoice   string            `toml:"default_voice"`
	DefaultSpeed   float64           `toml:"default_speed"`
	DefaultFormat  string            `toml:"default_format"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	MaxTextChars   int               `toml:"max_text_chars"`
	Env            map[string]string `toml:"env"`
}

// BootstrapConfig tunes the provisioning sequence.
type BootstrapConfig struct {
	RequirementsFile string `toml:"requirements_file"`
	SmokeTestText    string `toml:"smoke_test_text"`
	SmokeTestVoice   string `toml:"smoke_test_voice"`
	SmokeTestFormat  string `toml:"smoke_test_format"`
	// SmokeTestFatal restores the strict policy where a failing smoke test
	// aborts provisioning with a non-zero exit.
	SmokeTestFatal bool `toml:"smoke_test_fatal"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Kokoro    KokoroConfig    `toml:"kokoro"`
	Engine    EngineConfig    `toml:"engine"`
	Bootstrap BootstrapConfig `toml:"bootstrap"`
	NATS      NATSConfig      `toml:"nats"`
}

// Load loads the configuration through the central configurator, then applies
// defaults and validates.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFile loads the configuration from a local TOML file instead of the
// configurator, then applies defaults and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills every empty field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = DefaultLogsDir
	}

	if c.Paths.WorkDir == "" {
		c.Paths.WorkDir = DefaultWorkDir
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = DefaultOutputDir
	}

	if c.Kokoro.RepoURL == "" {
		c.Kokoro.RepoURL = DefaultRepoURL
	}

	if c.Kokoro.RepoRef == "" {
		c.Kokoro.RepoRef = DefaultRepoRef
	}

	if c.Kokoro.ScriptName == "" {
		c.Kokoro.ScriptName = DefaultScriptName
	}

	if c.Kokoro.InstallDir == "" {
		c.Kokoro.InstallDir = filepath.Join(c.Paths.WorkDir, "kokoro-tts")
	}

	if len(c.Kokoro.Artifacts) == 0 {
		c.Kokoro.Artifacts = []Artifact{
			{Filename: defaultModelFilename, URL: defaultModelURL, SHA256: ""},
			{Filename: defaultVoicesFilename, URL: defaultVoicesURL, SHA256: ""},
		}
	}

	if c.Engine.DefaultVoice == "" {
		c.Engine.DefaultVoice = DefaultVoice
	}

	if c.Engine.DefaultSpeed == 0 {
		c.Engine.DefaultSpeed = DefaultSpeed
	}

	if c.Engine.DefaultFormat == "" {
		c.Engine.DefaultFormat = DefaultFormat
	}

	if c.Engine.TimeoutSeconds == 0 {
		c.Engine.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Engine.MaxTextChars == 0 {
		c.Engine.MaxTextChars = DefaultMaxTextChars
	}

	if c.Engine.Env == nil {
		c.Engine.Env = map[string]string{
			"SDL_AUDIODRIVER": "dummy",
			"XDG_RUNTIME_DIR": DefaultRuntimeDir,
		}
	}

	if c.Bootstrap.RequirementsFile == "" {
		c.Bootstrap.RequirementsFile = DefaultRequirements
	}

	if c.Bootstrap.SmokeTestText == "" {
		c.Bootstrap.SmokeTestText = DefaultSmokeTestText
	}

	if c.Bootstrap.SmokeTestVoice == "" {
		c.Bootstrap.SmokeTestVoice = c.Engine.DefaultVoice
	}

	if c.Bootstrap.SmokeTestFormat == "" {
		c.Bootstrap.SmokeTestFormat = c.Engine.DefaultFormat
	}

	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}

	if c.NATS.TextProcessedSubject == "" {
		c.NATS.TextProcessedSubject = DefaultTextSubject
	}

	if c.NATS.AudioChunkCreatedSubject == "" {
		c.NATS.AudioChunkCreatedSubject = DefaultAudioSubject
	}

	if c.NATS.TextObjectStoreBucket == "" {
		c.NATS.TextObjectStoreBucket = DefaultTextBucket
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = DefaultAudioBucket
	}
}

// Validate checks the configuration for values the tool cannot work with.
func (c *Config) Validate() error {
	if c.Kokoro.RepoURL == "" {
		return ErrRepoURLEmpty
	}

	if len(c.Kokoro.Artifacts) == 0 {
		return ErrNoArtifacts
	}

	for _, artifact := range c.Kokoro.Artifacts {
		if artifact.Filename == "" {
			return fmt.Errorf("%w: url %s", ErrArtifactFilenameEmpty, artifact.URL)
		}

		if artifact.URL == "" {
			return fmt.Errorf("%w: filename %s", ErrArtifactURLEmpty, artifact.Filename)
		}
	}

	if c.Engine.TimeoutSeconds <= 0 {
		return ErrTimeoutNotPositive
	}

	if c.Engine.DefaultSpeed <= 0 {
		return ErrSpeedNotPositive
	}

	if c.Engine.MaxTextChars <= 0 {
		return ErrMaxTextNotPositive
	}

	for _, format := range []string{c.Engine.DefaultFormat, c.Bootstrap.SmokeTestFormat} {
		if !IsSupportedFormat(format) {
			return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
		}
	}

	return nil
}

// ScriptPath returns the expected location of the vendored kokoro-tts script.
func (c *Config) ScriptPath() string {
	return filepath.Join(c.Kokoro.InstallDir, c.Kokoro.ScriptName)
}

// ArtifactPath returns the expected location of a model artifact inside the
// checkout.
func (c *Config) ArtifactPath(a Artifact) string {
	return filepath.Join(c.Kokoro.InstallDir, a.Filename)
}

// RequirementsPath returns the absolute path of the Python requirements file.
// The install step skips itself when the file does not exist.
func (c *Config) RequirementsPath() string {
	if c.Bootstrap.RequirementsFile == "" {
		return ""
	}

	if filepath.IsAbs(c.Bootstrap.RequirementsFile) {
		return c.Bootstrap.RequirementsFile
	}

	return filepath.Join(c.Kokoro.InstallDir, c.Bootstrap.RequirementsFile)
}

// EnsureDirectories creates the directories the tool writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.BaseLogsDir, c.Paths.OutputDir, c.Paths.WorkDir} {
		err := fileutil.EnsureDir(dir)
		if err != nil {
			return err
		}
	}

	return nil
}
