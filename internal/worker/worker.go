// Package worker provides a NATS worker that turns processed-text events
// into synthesized audio chunks.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/kokoro-deploy/internal/config"
	"github.com/book-expert/kokoro-deploy/internal/core"
	"github.com/book-expert/kokoro-deploy/internal/voices"
)

// Per-message headroom on top of the engine's own synthesis timeout, so the
// engine deadline fires first and produces the more specific error.
const messageTimeoutGrace = 30 * time.Second

// Length of the random portion of generated audio keys.
const audioKeyRandomLength = 8

// NatsWorker listens for TTS jobs on a NATS subject and processes them.
// Text inputs and audio outputs live in separate object store buckets.
type NatsWorker struct {
	natsConnection   *nats.Conn
	jetstreamContext nats.JetStreamContext
	cfg              *config.Config
	textStore        core.BlobStore
	audioStore       core.BlobStore
	synth            core.Synthesizer
	log              *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	cfg *config.Config,
	textStore core.BlobStore,
	audioStore core.BlobStore,
	synth core.Synthesizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection:   natsConnection,
		jetstreamContext: jetstreamContext,
		cfg:              cfg,
		textStore:        textStore,
		audioStore:       audioStore,
		synth:            synth,
		log:              log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	subject := w.cfg.NATS.TextProcessedSubject

	sub, err := w.natsConnection.Subscribe(subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	w.log.Info("Listening for TTS jobs on %s", subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	timeout := time.Duration(w.cfg.Engine.TimeoutSeconds)*time.Second + messageTimeoutGrace

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	event, err := w.parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)

		return
	}

	audioKey, processErr := w.processJob(ctx, event)
	if processErr != nil {
		w.log.Error(
			"Failed to process TTS job for workflow %s: %v",
			event.Header.WorkflowID, processErr,
		)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error(
			"Failed to publish reply event for workflow %s: %v",
			event.Header.WorkflowID, err,
		)
	}
}

// processJob downloads the text, synthesizes it, and uploads the audio.
// It returns the object store key of the uploaded audio. The consumed text
// object is deleted once the audio is stored.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	code := event.Voice
	if code == "" {
		code = w.cfg.Engine.DefaultVoice
	}

	voice, err := voices.Lookup(code)
	if err != nil {
		return "", err
	}

	textData, err := w.textStore.Get(ctx, event.TextKey)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", fmt.Errorf(
				"text object '%s' was never uploaded or already consumed: %w",
				event.TextKey, err,
			)
		}

		return "", fmt.Errorf("failed to get text data for key '%s': %w", event.TextKey, err)
	}

	w.log.Info(
		"Processing %s with voice %s (%s %s)",
		event.TextKey, voice.Code, voice.Language, voice.Gender,
	)

	result, err := w.synth.Synthesize(ctx, core.SpeechRequest{
		Text:       string(textData),
		InputPath:  "",
		Voice:      voice.Code,
		Speed:      0,
		Format:     w.cfg.Engine.DefaultFormat,
		OutputPath: "",
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize speech: %w", err)
	}

	audioData, err := os.ReadFile(result.OutputPath)
	if err != nil {
		return "", fmt.Errorf("failed to read audio output %s: %w", result.OutputPath, err)
	}

	removeErr := os.Remove(result.OutputPath)
	if removeErr != nil {
		w.log.Warn("Failed to remove audio output '%s': %v", result.OutputPath, removeErr)
	}

	audioKey := fmt.Sprintf(
		"tts_%s.%s",
		uuid.NewString()[:audioKeyRandomLength],
		w.cfg.Engine.DefaultFormat,
	)

	err = w.audioStore.Put(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	// The text object is single-use input. Drop it now that the audio is
	// stored, so the bucket does not accumulate consumed chunks. Cleanup
	// never fails the job.
	deleteErr := w.textStore.Delete(ctx, event.TextKey)
	if deleteErr != nil {
		w.log.Warn(
			"Failed to delete consumed text object '%s': %v",
			event.TextKey, deleteErr,
		)
	}

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
