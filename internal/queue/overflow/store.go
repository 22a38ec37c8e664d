// Package overflow implements the optional offload path for job payloads
// too large to keep inline in job_queue's jsonb columns: a PgQueue
// configured with a Store uploads an oversized parameters document to
// object storage and keeps only a small reference in the row itself.
package overflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// refKey is the JSON field name a job's parameters column holds in place
// of the literal payload once it has been offloaded.
const refKey = "overflow_ref"

// Store offloads and retrieves oversized job payloads, addressed by an
// opaque reference string it generates in Put and parses in Get/Delete.
type Store interface {
	Put(ctx context.Context, jobID int64, payload json.RawMessage) (ref string, err error)
	Get(ctx context.Context, ref string) (json.RawMessage, error)
	Delete(ctx context.Context, ref string) error
}

// GCSStore is the production Store, backed by a single GCS bucket with one
// object per job.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore builds a GCSStore against bucket. It assumes the client is
// authenticated, e.g. via GOOGLE_APPLICATION_CREDENTIALS.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("overflow: failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) objectName(jobID int64) string {
	return fmt.Sprintf("job-%d/parameters.json", jobID)
}

func (s *GCSStore) ref(jobID int64) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.objectName(jobID))
}

// Put uploads payload as jobID's overflow parameters document and returns
// its reference, for the caller to store in job_queue.parameters in place
// of the literal payload.
func (s *GCSStore) Put(ctx context.Context, jobID int64, payload json.RawMessage) (string, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(jobID))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("overflow: failed to write payload for job %d: %w", jobID, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("overflow: failed to finalize payload for job %d: %w", jobID, err)
	}
	return s.ref(jobID), nil
}

// Get downloads the document named by ref, a string previously returned by
// Put.
func (s *GCSStore) Get(ctx context.Context, ref string) (json.RawMessage, error) {
	objectName, err := s.parseRef(ref)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("overflow: no payload stored at %s", ref)
		}
		return nil, fmt.Errorf("overflow: failed to read %s: %w", ref, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("overflow: failed to read %s: %w", ref, err)
	}
	return json.RawMessage(data), nil
}

// Delete removes the object named by ref, once the owning job has reached
// a terminal state and the janitor has deleted its row.
func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	objectName, err := s.parseRef(ref)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(s.bucket).Object(objectName).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("overflow: failed to delete %s: %w", ref, err)
	}
	return nil
}

func (s *GCSStore) parseRef(ref string) (string, error) {
	prefix := fmt.Sprintf("gs://%s/", s.bucket)
	if len(ref) <= len(prefix) || ref[:len(prefix)] != prefix {
		return "", fmt.Errorf("overflow: reference %q does not belong to bucket %q", ref, s.bucket)
	}
	return ref[len(prefix):], nil
}

// Reference wraps ref as the JSON document a row's parameters column holds
// in place of an offloaded payload.
func Reference(ref string) (json.RawMessage, error) {
	doc, err := json.Marshal(map[string]string{refKey: ref})
	if err != nil {
		return nil, fmt.Errorf("overflow: failed to marshal reference: %w", err)
	}
	return doc, nil
}

// ParseReference reports whether payload is an offload reference document
// and, if so, returns the reference string.
func ParseReference(payload json.RawMessage) (ref string, ok bool) {
	var doc map[string]string
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", false
	}
	ref, ok = doc[refKey]
	return ref, ok
}
