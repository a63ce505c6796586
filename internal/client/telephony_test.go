package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	retryUnit = time.Millisecond
}

func TestSendSMS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC1/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001", r.PostForm.Get("From"))
		assert.Equal(t, "+15550002", r.PostForm.Get("To"))
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewTelephonyClient(srv.URL, "AC1", "secret", zerolog.Nop())
	sid, err := c.SendSMS(context.Background(), "+15550001", "+15550002", "hello")

	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
}

func TestSendWhatsApp_MediaRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "whatsapp:+15550001", r.PostForm.Get("From"))
		assert.Equal(t, "https://rec.example/RE1.mp3", r.PostForm.Get("MediaUrl"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":63019,"message":"Media failed to download","status":400}`))
	}))
	defer srv.Close()

	c := NewTelephonyClient(srv.URL, "AC1", "secret", zerolog.Nop())
	_, err := c.SendWhatsApp(context.Background(), "+15550001", "+15550002", "rec", "https://rec.example/RE1.mp3")

	assert.ErrorIs(t, err, ErrMediaRejected)
}

func TestSendWhatsApp_OtherErrorsAreNotMediaErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":20003,"message":"Authenticate"}`))
	}))
	defer srv.Close()

	c := NewTelephonyClient(srv.URL, "AC1", "bad", zerolog.Nop())
	_, err := c.SendWhatsApp(context.Background(), "+1", "+2", "body", "https://rec.example/x")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMediaRejected)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 20003, apiErr.Code)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestAPIError_MediaClassification(t *testing.T) {
	testCases := []struct {
		name  string
		err   *APIError
		media bool
	}{
		{"Medya indirme kodu", &APIError{StatusCode: 400, Code: 63019}, true},
		{"Desteklenmeyen medya tipi", &APIError{StatusCode: http.StatusUnsupportedMediaType}, true},
		{"Geçersiz numara", &APIError{StatusCode: 400, Code: 21211}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.media, errors.Is(tc.err, ErrMediaRejected))
			assert.Equal(t, tc.media, errors.Is(fmt.Errorf("gönderim: %w", tc.err), ErrMediaRejected))
		})
	}
}

func TestRedirectCall_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC1/Calls/CA77.json", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://app.example/transfer", r.PostForm.Get("Url"))
		_, _ = w.Write([]byte(`{"sid":"CA77"}`))
	}))
	defer srv.Close()

	c := NewTelephonyClient(srv.URL, "AC1", "secret", zerolog.Nop())
	err := c.RedirectCall(context.Background(), "CA77", "https://app.example/transfer")

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}
