// Package sink delivers rendered tasks either back to the caller or to object storage.
package sink

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/snapshotter/internal/logging"
	"github.com/JakeFAU/snapshotter/internal/metrics"
	"github.com/JakeFAU/snapshotter/internal/render"
)

// ErrDelivery marks upload failures.
var ErrDelivery = errors.New("artifact delivery failed")

// DeliveryError reports a failed upload of one task.
type DeliveryError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("upload %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}

// BlobStore persists bytes under bucket/key and returns a URI. Existing objects are overwritten.
type BlobStore interface {
	PutObject(ctx context.Context, bucket, key, contentType string, data []byte) (string, error)
}

// Hasher computes content digests for delivered artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Stream leaves the payload on the task for the caller to read.
type Stream struct{}

// Deliver implements render.Sink.
func (Stream) Deliver(context.Context, *render.Task) error { return nil }

// Layout maps task sizes to buckets and key slots.
type Layout struct {
	// Buckets maps a size label to its bucket.
	Buckets map[string]string
	// DefaultBucket receives sizes missing from Buckets.
	DefaultBucket string
	// Slots maps a size label to the remote file stem.
	Slots map[string]string
	// Prefix is the leading key segment.
	Prefix string
	// Extension is appended to the slot name.
	Extension string
}

// DefaultSlots are the remote file stems consumed downstream.
var DefaultSlots = map[string]string{
	"375x667":  "main_1",
	"1024x768": "main_4",
}

// Artifact describes one uploaded object.
type Artifact struct {
	Size   string `json:"size"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URI    string `json:"uri"`
	Bytes  int    `json:"bytes"`
	SHA256 string `json:"sha256,omitempty"`
}

// ObjectStore uploads each task to a bucket chosen by its size. One ObjectStore serves one job.
type ObjectStore struct {
	store       BlobStore
	layout      Layout
	jobID       string
	contentType string
	hasher      Hasher

	mu        sync.Mutex
	artifacts []Artifact
}

// NewObjectStore binds a layout and blob store to one job.
func NewObjectStore(store BlobStore, layout Layout, jobID, contentType string, hasher Hasher) (*ObjectStore, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if jobID == "" {
		return nil, errors.New("job id is required")
	}
	if layout.DefaultBucket == "" {
		return nil, errors.New("default bucket is required")
	}
	if layout.Prefix == "" {
		layout.Prefix = "scr"
	}
	if layout.Extension == "" {
		layout.Extension = ".jpg"
	}
	return &ObjectStore{
		store:       store,
		layout:      layout,
		jobID:       jobID,
		contentType: contentType,
		hasher:      hasher,
	}, nil
}

// Bucket returns the bucket for the task size, falling back to the default bucket.
func (o *ObjectStore) Bucket(task *render.Task) string {
	if bucket, ok := o.layout.Buckets[task.SizeLabel()]; ok && bucket != "" {
		return bucket
	}
	return o.layout.DefaultBucket
}

// RemoteKey returns "{prefix}/{job}/{slot}{ext}". Sizes without a slot use the job id as stem.
func (o *ObjectStore) RemoteKey(task *render.Task) string {
	slot, ok := o.layout.Slots[task.SizeLabel()]
	if !ok || slot == "" {
		slot = o.jobID
	}
	return path.Join(o.layout.Prefix, o.jobID, slot+o.layout.Extension)
}

// Deliver uploads the task payload.
func (o *ObjectStore) Deliver(ctx context.Context, task *render.Task) error {
	bucket, key := o.Bucket(task), o.RemoteKey(task)
	logger := logging.FromContext(ctx).With(
		zap.String("size", task.SizeLabel()),
		zap.String("bucket", bucket),
		zap.String("key", key),
	)

	uri, err := o.store.PutObject(ctx, bucket, key, o.contentType, task.Payload)
	if err != nil {
		metrics.ObserveUpload(bucket, "error", 0)
		return &DeliveryError{Bucket: bucket, Key: key, Err: err}
	}
	metrics.ObserveUpload(bucket, "success", len(task.Payload))

	artifact := Artifact{
		Size:   task.SizeLabel(),
		Bucket: bucket,
		Key:    key,
		URI:    uri,
		Bytes:  len(task.Payload),
	}
	if o.hasher != nil {
		digest, hashErr := o.hasher.Hash(task.Payload)
		if hashErr != nil {
			logger.Warn("artifact digest failed", zap.Error(hashErr))
		}
		artifact.SHA256 = digest
	}
	o.mu.Lock()
	o.artifacts = append(o.artifacts, artifact)
	o.mu.Unlock()

	logger.Info("artifact uploaded", zap.String("uri", uri), zap.Int("bytes", artifact.Bytes))
	return nil
}

// Artifacts returns the objects delivered so far.
func (o *ObjectStore) Artifacts() []Artifact {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Artifact, len(o.artifacts))
	copy(out, o.artifacts)
	return out
}
