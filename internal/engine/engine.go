// Package engine drives the vendored kokoro-tts command line program.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/kokoro-deploy/internal/config"
	"github.com/book-expert/kokoro-deploy/internal/core"
	"github.com/book-expert/kokoro-deploy/internal/fileutil"
	"github.com/book-expert/kokoro-deploy/internal/text"
	"github.com/book-expert/kokoro-deploy/internal/voices"
)

// Length of the random portion of generated output filenames.
const outputNameLength = 8

// Static errors.
var (
	ErrEmptyText         = errors.New("no text provided")
	ErrTextTooLong       = errors.New("text exceeds maximum length")
	ErrScriptNotFound    = errors.New("kokoro-tts script not found")
	ErrScriptNotRunnable = errors.New("kokoro-tts script is not executable")
	ErrArtifactMissing   = errors.New("model artifact missing or empty")
	ErrNoAudioProduced   = errors.New("engine produced no audio output")
	ErrSynthesisTimeout  = errors.New("synthesis timed out")
)

// Engine implements core.Synthesizer by invoking the kokoro-tts script.
type Engine struct {
	cfg  *config.Config
	log  *logger.Logger
	norm *text.Normalizer
}

// New creates an Engine bound to the given configuration.
func New(cfg *config.Config, log *logger.Logger) *Engine {
	return &Engine{
		cfg:  cfg,
		log:  log,
		norm: text.NewNormalizer(),
	}
}

// ScriptPath resolves the kokoro-tts script by checking the configured
// install location first, then the work directory, then PATH.
func (e *Engine) ScriptPath() (string, error) {
	candidatePaths := []string{
		e.cfg.ScriptPath(),
		filepath.Join(e.cfg.Paths.WorkDir, e.cfg.Kokoro.ScriptName),
	}

	for _, path := range candidatePaths {
		_, statErr := os.Stat(path)
		if statErr == nil {
			return path, nil
		}

		if !os.IsNotExist(statErr) {
			return "", fmt.Errorf("failed to check script path %q: %w", path, statErr)
		}
	}

	resolved, lookErr := exec.LookPath(e.cfg.Kokoro.ScriptName)
	if lookErr == nil {
		return resolved, nil
	}

	return "", fmt.Errorf("%w: %s", ErrScriptNotFound, e.cfg.Kokoro.ScriptName)
}

// Ready reports whether the engine can synthesize: the script must be present
// and executable and every configured model artifact must be a non-empty file.
func (e *Engine) Ready() error {
	scriptPath, err := e.ScriptPath()
	if err != nil {
		return err
	}

	if !fileutil.IsExecutable(scriptPath) {
		return fmt.Errorf("%w: %s", ErrScriptNotRunnable, scriptPath)
	}

	for _, artifact := range e.cfg.Kokoro.Artifacts {
		path := e.cfg.ArtifactPath(artifact)
		if !fileutil.NonEmptyFile(path) {
			return fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
	}

	return nil
}

// Synthesize converts a speech request into an audio file on disk.
//
// Empty request fields fall back to the configured defaults. The engine
// process inherits this process's environment plus the configured overrides,
// and is killed when the configured timeout elapses.
func (e *Engine) Synthesize(ctx context.Context, req core.SpeechRequest) (*core.SpeechResult, error) {
	scriptPath, err := e.ScriptPath()
	if err != nil {
		return nil, err
	}

	voice, speed, format, err := e.resolveOptions(req)
	if err != nil {
		return nil, err
	}

	inputPath, cleanup, err := e.resolveInput(req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outputPath := req.OutputPath
	if outputPath == "" {
		mkdirErr := fileutil.EnsureDir(e.cfg.Paths.OutputDir)
		if mkdirErr != nil {
			return nil, mkdirErr
		}

		name := fmt.Sprintf("tts_%s.%s", uuid.NewString()[:outputNameLength], format)
		outputPath = filepath.Join(e.cfg.Paths.OutputDir, name)
	}

	timeout := time.Duration(e.cfg.Engine.TimeoutSeconds) * time.Second

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		inputPath,
		outputPath,
		"--voice=" + voice,
		fmt.Sprintf("--speed=%.2f", speed),
		"--format=" + format,
	}

	// #nosec G204 -- script path and arguments come from validated configuration
	cmd := exec.CommandContext(runCtx, scriptPath, args...)
	cmd.Dir = e.cfg.Kokoro.InstallDir
	cmd.Env = childEnviron(e.cfg.Engine.Env)

	e.log.Info("Synthesizing with voice %s into %s", voice, outputPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrSynthesisTimeout, timeout)
		}

		return nil, fmt.Errorf(
			"kokoro-tts execution failed: %w - output: %s",
			err,
			string(output),
		)
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil || info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAudioProduced, outputPath)
	}

	return &core.SpeechResult{
		OutputPath: outputPath,
		Size:       info.Size(),
	}, nil
}

// resolveOptions fills request fields from the configured defaults and
// validates them.
func (e *Engine) resolveOptions(req core.SpeechRequest) (string, float64, string, error) {
	voice := req.Voice
	if voice == "" {
		voice = e.cfg.Engine.DefaultVoice
	}

	err := voices.Validate(voice)
	if err != nil {
		return "", 0, "", err
	}

	speed := req.Speed
	if speed == 0 {
		speed = e.cfg.Engine.DefaultSpeed
	}

	format := req.Format
	if format == "" {
		format = e.cfg.Engine.DefaultFormat
	}

	if !config.IsSupportedFormat(format) {
		return "", 0, "", fmt.Errorf("%w: %q", config.ErrUnsupportedFormat, format)
	}

	return voice, speed, format, nil
}

// resolveInput returns the path of the text file to feed the engine. Inline
// text is normalized and written to a temporary file removed by the returned
// cleanup func. The length cap applies to the text as submitted, before
// normalization. File inputs are handed to the engine untouched.
func (e *Engine) resolveInput(req core.SpeechRequest) (string, func(), error) {
	noop := func() {}

	if req.InputPath != "" {
		if !fileutil.NonEmptyFile(req.InputPath) {
			return "", noop, fmt.Errorf("%w: %s", ErrEmptyText, req.InputPath)
		}

		return req.InputPath, noop, nil
	}

	length := utf8.RuneCountInString(req.Text)
	if length > e.cfg.Engine.MaxTextChars {
		return "", noop, fmt.Errorf(
			"%w: %d > %d characters",
			ErrTextTooLong,
			length,
			e.cfg.Engine.MaxTextChars,
		)
	}

	normalized := e.norm.Normalize(req.Text)
	if normalized == "" {
		return "", noop, ErrEmptyText
	}

	tempFile, err := os.CreateTemp("", "tts-input-*.txt")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp file for tts input: %w", err)
	}

	_, err = tempFile.WriteString(normalized)
	if err == nil {
		err = tempFile.Close()
	}

	if err != nil {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}

		return "", noop, fmt.Errorf("failed to write tts input: %w", err)
	}

	cleanup := func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}

	return tempFile.Name(), cleanup, nil
}

// childEnviron merges the override map over the current process environment.
// Later entries win for duplicate keys, so this process's own environment is
// never mutated.
func childEnviron(overrides map[string]string) []string {
	env := os.Environ()

	for key, value := range overrides {
		env = append(env, key+"="+value)
	}

	return env
}
