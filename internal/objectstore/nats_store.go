// Package objectstore provides a NATS JetStream implementation of the
// core.BlobStore interface.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/kokoro-deploy/internal/core"
)

// NatsBlobStore holds text inputs and audio outputs in a JetStream object
// store bucket. Missing keys are reported as core.ErrNotFound so callers can
// separate a consumed or never-uploaded object from a transport failure.
type NatsBlobStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// New creates the bucket if needed and binds to it.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsBlobStore, error) {
	// Create-first: the common path on a fresh host is that the bucket does
	// not exist yet. A lost create race or a pre-provisioned bucket surfaces
	// as an exists error, which binds instead.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("kokoro-deploy pipeline blobs (%s)", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) &&
			!errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf(
				"failed to create object store bucket '%s': %w",
				bucketName,
				err,
			)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to bind to existing object store bucket '%s': %w",
				bucketName,
				err,
			)
		}
	}

	return &NatsBlobStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
	}, nil
}

// Get retrieves an object from the bucket. A missing key is reported as
// core.ErrNotFound.
func (n *NatsBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, n.keyError("get", key, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Put saves an object into the bucket.
func (n *NatsBlobStore) Put(_ context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader)
	if err != nil {
		return n.keyError("put", key, err)
	}

	return nil
}

// Delete removes an object from the bucket. Deleting a key that was never
// written, or was already deleted, is reported as core.ErrNotFound.
func (n *NatsBlobStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil {
		return n.keyError("delete", key, err)
	}

	return nil
}

// keyError maps the client library's not-found onto core.ErrNotFound and
// tags everything else with the operation, key, and bucket.
func (n *NatsBlobStore) keyError(op, key string, err error) error {
	if errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf(
			"%s object '%s' in bucket '%s': %w",
			op,
			key,
			n.bucket,
			core.ErrNotFound,
		)
	}

	return fmt.Errorf(
		"failed to %s object '%s' in bucket '%s': %w",
		op,
		key,
		n.bucket,
		err,
	)
}
