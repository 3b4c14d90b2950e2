// Package worker_test tests the NATS worker for kokoro-deploy.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/kokoro-deploy/internal/config"
	"github.com/book-expert/kokoro-deploy/internal/core"
	"github.com/book-expert/kokoro-deploy/internal/worker"
)

var (
	errMockGet        = errors.New("mock get error")
	errMockPut        = errors.New("mock put error")
	errMockDelete     = errors.New("mock delete error")
	errMockSynthesize = errors.New("mock synthesize error")
)

// mockBlobStore is a mock implementation of the BlobStore interface.
type mockBlobStore struct {
	getShouldFail    bool
	putShouldFail    bool
	deleteShouldFail bool
	gotKey           string
	putKey           string
	putData          []byte
	deletedKey       string
}

func (m *mockBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getShouldFail {
		return nil, errMockGet
	}

	m.gotKey = key

	return []byte("sample text"), nil
}

func (m *mockBlobStore) Put(_ context.Context, key string, data []byte) error {
	if m.putShouldFail {
		return errMockPut
	}

	m.putKey = key
	m.putData = data

	return nil
}

func (m *mockBlobStore) Delete(_ context.Context, key string) error {
	if m.deleteShouldFail {
		return errMockDelete
	}

	m.deletedKey = key

	return nil
}

// mockSynthesizer is a mock implementation of the Synthesizer interface. It
// writes a real file because the worker reads the audio back from disk.
type mockSynthesizer struct {
	outputDir            string
	synthesizeShouldFail bool
	lastRequest          core.SpeechRequest
}

func (m *mockSynthesizer) Synthesize(
	_ context.Context,
	req core.SpeechRequest,
) (*core.SpeechResult, error) {
	if m.synthesizeShouldFail {
		return nil, errMockSynthesize
	}

	m.lastRequest = req

	path := filepath.Join(m.outputDir, "mock-audio.wav")

	err := os.WriteFile(path, []byte("sample audio"), 0o600)
	if err != nil {
		return nil, err
	}

	return &core.SpeechResult{OutputPath: path, Size: int64(len("sample audio"))}, nil
}

func createTestNatsClient(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	cleanup := func() {
		server.Shutdown()
		natsConnection.Close()
	}

	return natsConnection, cleanup
}

func setupTest(t *testing.T) (
	*config.Config,
	*mockBlobStore,
	*mockBlobStore,
	*mockSynthesizer,
	context.CancelFunc,
	*nats.Conn,
	chan error,
) {
	t.Helper()

	var cfg config.Config

	cfg.ApplyDefaults()

	textStore := &mockBlobStore{
		getShouldFail:    false,
		putShouldFail:    false,
		deleteShouldFail: false,
		gotKey:           "",
		putKey:           "",
		putData:          nil,
		deletedKey:       "",
	}
	audioStore := &mockBlobStore{
		getShouldFail:    false,
		putShouldFail:    false,
		deleteShouldFail: false,
		gotKey:           "",
		putKey:           "",
		putData:          nil,
		deletedKey:       "",
	}
	mockSynth := &mockSynthesizer{
		outputDir:            t.TempDir(),
		synthesizeShouldFail: false,
		lastRequest: core.SpeechRequest{
			Text:       "",
			InputPath:  "",
			Voice:      "",
			Speed:      0,
			Format:     "",
			OutputPath: "",
		},
	}

	natsConnection, natsCleanup := createTestNatsClient(t)
	t.Cleanup(natsCleanup)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, jetstreamContext, &cfg, textStore, audioStore, mockSynth, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	return &cfg, textStore, audioStore, mockSynth, cancel, natsConnection, errChan
}

func newTextProcessedEvent(voice string) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           "test-text-key",
		PNGKey:            "",
		PageNumber:        3,
		TotalPages:        10,
		Voice:             voice,
		Seed:              0,
		NGL:               0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       0,
	}
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	cfg, textStore, audioStore, mockSynth, cancel, natsConnection, errChan := setupTest(t)
	defer cancel()

	testEvent := newTextProcessedEvent("am_adam")
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(
		cfg.NATS.TextProcessedSubject, eventData, 5*time.Second,
	)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent

	err = json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	assert.Equal(t, "test-text-key", textStore.gotKey)
	assert.Equal(t, "sample text", mockSynth.lastRequest.Text)
	assert.Equal(t, "am_adam", mockSynth.lastRequest.Voice)

	assert.True(t, strings.HasPrefix(audioStore.putKey, "tts_"))
	assert.True(t, strings.HasSuffix(audioStore.putKey, "."+cfg.Engine.DefaultFormat))
	assert.Equal(t, []byte("sample audio"), audioStore.putData)

	assert.Equal(t, "test-text-key", textStore.deletedKey,
		"the consumed text object must be cleaned up")
	assert.Empty(t, audioStore.deletedKey, "the audio object must stay available")

	assert.Equal(t, audioStore.putKey, replyEvent.AudioKey)
	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.Equal(t, testEvent.PageNumber, replyEvent.PageNumber)
	assert.Equal(t, testEvent.TotalPages, replyEvent.TotalPages)

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_EmptyVoiceFallsBackToDefault(t *testing.T) {
	t.Parallel()

	cfg, _, _, mockSynth, cancel, natsConnection, _ := setupTest(t)
	defer cancel()

	eventData, err := json.Marshal(newTextProcessedEvent(""))
	require.NoError(t, err)

	_, err = natsConnection.Request(cfg.NATS.TextProcessedSubject, eventData, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, cfg.Engine.DefaultVoice, mockSynth.lastRequest.Voice)
}

func TestMessageHandler_UnknownVoiceIsRejected(t *testing.T) {
	t.Parallel()

	cfg, textStore, _, _, cancel, natsConnection, _ := setupTest(t)
	defer cancel()

	eventData, err := json.Marshal(newTextProcessedEvent("xx_bogus"))
	require.NoError(t, err)

	_, err = natsConnection.Request(cfg.NATS.TextProcessedSubject, eventData, 2*time.Second)
	require.Error(t, err, "an invalid voice must produce no reply")
	assert.Empty(t, textStore.gotKey, "the text must not be fetched for an invalid voice")
}

func TestMessageHandler_CleanupFailureStillReplies(t *testing.T) {
	t.Parallel()

	cfg, textStore, audioStore, _, cancel, natsConnection, _ := setupTest(t)
	defer cancel()

	textStore.deleteShouldFail = true

	eventData, err := json.Marshal(newTextProcessedEvent("af_sarah"))
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(
		cfg.NATS.TextProcessedSubject, eventData, 5*time.Second,
	)
	require.NoError(t, err, "a failed cleanup must not fail the job")

	var replyEvent events.AudioChunkCreatedEvent

	err = json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)
	assert.Equal(t, audioStore.putKey, replyEvent.AudioKey)
}

func TestMessageHandler_StoreFailureProducesNoReply(t *testing.T) {
	t.Parallel()

	cfg, textStore, _, mockSynth, cancel, natsConnection, _ := setupTest(t)
	defer cancel()

	textStore.getShouldFail = true

	eventData, err := json.Marshal(newTextProcessedEvent("af_sarah"))
	require.NoError(t, err)

	_, err = natsConnection.Request(cfg.NATS.TextProcessedSubject, eventData, 2*time.Second)
	require.Error(t, err)
	assert.Empty(t, mockSynth.lastRequest.Text, "synthesis must not run when the text is missing")
}

func TestMessageHandler_SynthesisFailureProducesNoReply(t *testing.T) {
	t.Parallel()

	cfg, _, audioStore, mockSynth, cancel, natsConnection, _ := setupTest(t)
	defer cancel()

	mockSynth.synthesizeShouldFail = true

	eventData, err := json.Marshal(newTextProcessedEvent("af_sarah"))
	require.NoError(t, err)

	_, err = natsConnection.Request(cfg.NATS.TextProcessedSubject, eventData, 2*time.Second)
	require.Error(t, err)
	assert.Empty(t, audioStore.putKey, "no audio may be uploaded when synthesis fails")
}
