package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDispatcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher()
	result, err := d.Dispatch(context.Background(), srv.URL, []byte(`{"hello":"world"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestHTTPDispatcher_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher()
	result, err := d.Dispatch(context.Background(), srv.URL, []byte(`{}`))
	require.Error(t, err)
	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.EqualValues(t, 30, result.RetryAfter)
}

func TestHTTPDispatcher_ClientErrorIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher()
	_, err := d.Dispatch(context.Background(), srv.URL, []byte(`{}`))
	require.Error(t, err)
	var nonRetryable *NonRetryableError
	require.ErrorAs(t, err, &nonRetryable)
}

func TestHTTPDispatcher_TooManyRequestsIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher()
	_, err := d.Dispatch(context.Background(), srv.URL, []byte(`{}`))
	require.Error(t, err)
	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
}

func TestHTTPDispatcher_RequestTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestTimeout)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher()
	_, err := d.Dispatch(context.Background(), srv.URL, []byte(`{}`))
	require.Error(t, err)
	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
}

func TestHTTPDispatcher_UnsupportedMethodIsNonRetryable(t *testing.T) {
	d := NewHTTPDispatcher()
	_, err := d.Dispatch(context.Background(), "https://example.com", []byte(`{"method":"TRACE"}`))
	require.Error(t, err)
	var nonRetryable *NonRetryableError
	require.ErrorAs(t, err, &nonRetryable)
}

func TestParseRetryAfter(t *testing.T) {
	assert.EqualValues(t, 0, parseRetryAfter(""))
	assert.EqualValues(t, 0, parseRetryAfter("not-a-number"))
	assert.EqualValues(t, 120, parseRetryAfter("120"))
}
