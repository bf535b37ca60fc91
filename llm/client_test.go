package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider is a minimal provider for exercising the client loop.
type stubProvider struct{}

func (stubProvider) Name() string                { return "stub" }
func (stubProvider) BuildURL(base string) string { return base }
func (stubProvider) SetHeaders(_ *http.Request)  {}

func (stubProvider) BuildRequestBody(_ string, _ []Message, _ *float64, _ int) ([]byte, error) {
	return []byte(`{}`), nil
}

func (stubProvider) ParseResponse(body []byte, model string) (*Response, error) {
	return &Response{Content: string(body), Model: model}, nil
}

// garbledProvider fails to parse every response body.
type garbledProvider struct{ stubProvider }

func (garbledProvider) Name() string { return "garbled" }

func (garbledProvider) ParseResponse([]byte, string) (*Response, error) {
	return nil, errors.New("unexpected response shape")
}

func init() {
	RegisterProvider(stubProvider{})
	RegisterProvider(garbledProvider{})
}

func fastRetry() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		Growth:    1.0,
		MaxDelay:  time.Millisecond,
	}
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewClient(Endpoint{Provider: "stub", URL: srv.URL, Model: "m"},
		WithRetryConfig(fastRetry()))

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(Endpoint{Provider: "stub", URL: srv.URL, Model: "m"},
		WithRetryConfig(fastRetry()))

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteDoesNotRetryUnparseableResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("not what anyone expected"))
	}))
	defer srv.Close()

	client := NewClient(Endpoint{Provider: "garbled", URL: srv.URL, Model: "m"},
		WithRetryConfig(fastRetry()))

	// A well-formed HTTP exchange with a body the provider cannot parse will
	// not get better on retry.
	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteRequiresMessages(t *testing.T) {
	client := NewClient(Endpoint{Provider: "stub", Model: "m"})
	_, err := client.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestCompleteUnknownProvider(t *testing.T) {
	client := NewClient(Endpoint{Provider: "no-such-provider", Model: "m"},
		WithRetryConfig(fastRetry()))
	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.True(t, IsPermanent(err))
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")
	assert.False(t, IsPermanent(retryable(base)))
	assert.True(t, IsPermanent(permanent(base)))
	assert.True(t, IsPermanent(base), "unclassified errors are not retried")
	assert.True(t, errors.Is(permanent(base), base))
	assert.True(t, errors.Is(retryable(base), base))
}
