package overflow

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReference_RoundTrip(t *testing.T) {
	doc, err := Reference("gs://bucket/job-1/parameters.json")
	require.NoError(t, err)

	ref, ok := ParseReference(doc)
	require.True(t, ok)
	assert.Equal(t, "gs://bucket/job-1/parameters.json", ref)
}

func TestParseReference_OrdinaryPayloadIsNotAReference(t *testing.T) {
	_, ok := ParseReference(json.RawMessage(`{"url":"https://example.com"}`))
	assert.False(t, ok)
}

func TestParseReference_InvalidJSON(t *testing.T) {
	_, ok := ParseReference(json.RawMessage(`not json`))
	assert.False(t, ok)
}

func TestGCSStore_PutGetDelete(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping GCS tests")
	}

	ctx := context.Background()
	store, err := NewGCSStore(ctx, bucket)
	require.NoError(t, err)

	payload := json.RawMessage(`{"hello":"world"}`)
	ref, err := store.Put(ctx, 12345, payload)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Delete(ctx, ref) })

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(got))

	require.NoError(t, store.Delete(ctx, ref))

	_, err = store.Get(ctx, ref)
	assert.Error(t, err)
}

func TestGCSStore_ParseRef_RejectsForeignBucket(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping GCS tests")
	}

	ctx := context.Background()
	store, err := NewGCSStore(ctx, bucket)
	require.NoError(t, err)

	_, err = store.Get(ctx, "gs://some-other-bucket/job-1/parameters.json")
	assert.Error(t, err)
}
