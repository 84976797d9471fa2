package aiassist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	path string
	auth string
	body consultRequest
}

func newTestServer(t *testing.T, status int, payload string, calls *[]recordedCall) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body consultRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if calls != nil {
			*calls = append(*calls, recordedCall{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcess_ReturnsDraft(t *testing.T) {
	var calls []recordedCall
	srv := newTestServer(t, http.StatusOK,
		`{"message":"ok","result":{"draft_response":"Recommend TSH and free T4."}}`, &calls)

	c := New(srv.URL+"/", 5*time.Second)
	draft, err := c.Process(context.Background(), "tok-1", "c-42")

	require.NoError(t, err)
	assert.Equal(t, "Recommend TSH and free T4.", draft)
	require.Len(t, calls, 1)
	assert.Equal(t, "/process", calls[0].path)
	assert.Equal(t, "Bearer tok-1", calls[0].auth)
	assert.Equal(t, "c-42", calls[0].body.EConsultID)
}

func TestProcess_SurfacesDetail(t *testing.T) {
	srv := newTestServer(t, http.StatusUnprocessableEntity, `{"detail":"consult has no clinical question"}`, nil)

	_, err := New(srv.URL, 5*time.Second).Process(context.Background(), "tok", "c-1")

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Equal(t, "consult has no clinical question", se.Error())
}

func TestProcess_ErrorWithoutDetail(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, `oops`, nil)

	_, err := New(srv.URL, 5*time.Second).Process(context.Background(), "tok", "c-1")

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "500")
}

func TestProcess_MissingDraft(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"message":"queued"}`, nil)

	_, err := New(srv.URL, 5*time.Second).Process(context.Background(), "tok", "c-1")

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "queued", se.Detail)
}

func TestProcess_NotConfigured(t *testing.T) {
	c := New("", time.Second)
	assert.False(t, c.Configured())

	_, err := c.Process(context.Background(), "tok", "c-1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.Feedback(context.Background(), "tok", "c-1"), ErrNotConfigured)
}

func TestProcess_Unreachable(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{}`, nil)
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Process(context.Background(), "tok", "c-1")
	require.Error(t, err)
	var se *ServiceError
	assert.False(t, errors.As(err, &se))
}

func TestFeedback_IgnoresBody(t *testing.T) {
	var calls []recordedCall
	srv := newTestServer(t, http.StatusOK, `not json at all`, &calls)

	err := New(srv.URL, 5*time.Second).Feedback(context.Background(), "tok-2", "c-7")

	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "/feedback", calls[0].path)
	assert.Equal(t, "Bearer tok-2", calls[0].auth)
	assert.Equal(t, "c-7", calls[0].body.EConsultID)
}

func TestFeedback_Error(t *testing.T) {
	srv := newTestServer(t, http.StatusServiceUnavailable, `{"detail":"down"}`, nil)

	err := New(srv.URL, 5*time.Second).Feedback(context.Background(), "tok", "c-1")

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "down", se.Detail)
}
