// Package core defines the interfaces that connect the provisioning,
// synthesis, and serving layers of kokoro-deploy.
package core

import (
	"context"
	"errors"
)

// ErrNotFound reports a key with no stored object. Implementations wrap it
// so callers can tell a missing object from a transport failure.
var ErrNotFound = errors.New("object not found")

// BlobStore is a key-value blob store holding pipeline inputs (text) and
// outputs (audio). Get and Delete report an absent key by wrapping
// ErrNotFound.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// SpeechRequest describes one synthesis invocation of the Kokoro CLI.
type SpeechRequest struct {
	// Text is the content to synthesize. Exactly one of Text or InputPath
	// must be set.
	Text string
	// InputPath is an existing text file to synthesize from.
	InputPath string
	// Voice is a Kokoro voice code such as "af_sarah". Empty selects the
	// configured default.
	Voice string
	// Speed is the playback speed multiplier. Zero selects the default.
	Speed float64
	// Format is the output container ("wav", "mp3"). Empty selects the
	// default.
	Format string
	// OutputPath forces the output location. Empty lets the engine pick a
	// unique name in its output directory.
	OutputPath string
}

// SpeechResult reports a completed synthesis.
type SpeechResult struct {
	OutputPath string
	Size       int64
}

// Synthesizer turns text into an audio file by driving an external engine.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error)
}

// Fetcher downloads a URL to a local destination path. A non-empty sha256
// digest is verified before the destination is written. Implementations must
// not leave partial files behind at dest on failure.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest, sha256 string) error
}

// CommandRunner executes an external command in a working directory and
// returns its combined output. It exists so provisioning steps that shell out
// (git, pip) can be exercised without the real binaries.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}
