package handler

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/relay"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
)

// --- Mock Bağımlılıklar ---
type MockCallService struct {
	mock.Mock
}

func (m *MockCallService) HandleInboundCall(ctx context.Context, externalCallID, from, to string) (*model.CallRecord, error) {
	args := m.Called(ctx, externalCallID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallRecord), args.Error(1)
}

func (m *MockCallService) HandleStatusUpdate(ctx context.Context, externalCallID, status string, durationSeconds int) error {
	return m.Called(ctx, externalCallID, status, durationSeconds).Error(0)
}

func (m *MockCallService) HandleRecordingReady(ctx context.Context, externalCallID, recordingRef string) error {
	return m.Called(ctx, externalCallID, recordingRef).Error(0)
}

func (m *MockCallService) HandleRedirectOutcome(ctx context.Context, externalCallID string, answered bool) error {
	return m.Called(ctx, externalCallID, answered).Error(0)
}

func (m *MockCallService) HandleMessageStatus(ctx context.Context, providerMessageID, status, errText string) error {
	return m.Called(ctx, providerMessageID, status, errText).Error(0)
}

func (m *MockCallService) HandleInboundSMS(ctx context.Context, messageSID, from, to, body string) error {
	return m.Called(ctx, messageSID, from, to, body).Error(0)
}

func newTestHandler(svc CallService) (*EventHandler, *prometheus.CounterVec, *prometheus.CounterVec) {
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_processed"}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_failed"}, []string{"event_type", "reason"})
	return NewEventHandler(svc, zerolog.New(io.Discard), processed, failed), processed, failed
}

// --- Testler ---
func TestHandleRabbitMQMessage_Routing(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		setup   func(m *MockCallService)
	}{
		{
			"Gelen çağrı",
			`{"eventType":"telephony.call.inbound","callSid":"CA1","from":"+1555","to":"+1666"}`,
			func(m *MockCallService) {
				m.On("HandleInboundCall", mock.Anything, "CA1", "+1555", "+1666").Return(&model.CallRecord{ID: "c1"}, nil)
			},
		},
		{
			"Çağrı durumu",
			`{"eventType":"telephony.call.status","callSid":"CA1","status":"completed","duration":42}`,
			func(m *MockCallService) {
				m.On("HandleStatusUpdate", mock.Anything, "CA1", "completed", 42).Return(nil)
			},
		},
		{
			"Kayıt hazır",
			`{"eventType":"telephony.recording.ready","callSid":"CA1","recordingUrl":"https://rec/RE1"}`,
			func(m *MockCallService) {
				m.On("HandleRecordingReady", mock.Anything, "CA1", "https://rec/RE1").Return(nil)
			},
		},
		{
			"Aktarım sonucu",
			`{"eventType":"telephony.redirect.outcome","callSid":"CA1","answered":false}`,
			func(m *MockCallService) {
				m.On("HandleRedirectOutcome", mock.Anything, "CA1", false).Return(nil)
			},
		},
		{
			"Mesaj durumu",
			`{"eventType":"telephony.message.status","messageSid":"SM1","status":"undelivered","errorCode":"30003"}`,
			func(m *MockCallService) {
				m.On("HandleMessageStatus", mock.Anything, "SM1", "undelivered", "30003").Return(nil)
			},
		},
		{
			"Gelen SMS",
			`{"eventType":"telephony.sms.received","messageSid":"SM2","from":"+1555","to":"+1666","body":"call me"}`,
			func(m *MockCallService) {
				m.On("HandleInboundSMS", mock.Anything, "SM2", "+1555", "+1666", "call me").Return(nil)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockCallService)
			tc.setup(svc)
			handler, processed, failed := newTestHandler(svc)

			handler.HandleRabbitMQMessage([]byte(tc.payload))

			svc.AssertExpectations(t)
			assert.Equal(t, float64(1), testutil.ToFloat64(processed))
			assert.Equal(t, 0, testutil.CollectAndCount(failed))
		})
	}
}

func TestHandleRabbitMQMessage_InvalidJSON(t *testing.T) {
	svc := new(MockCallService)
	handler, _, failed := newTestHandler(svc)

	handler.HandleRabbitMQMessage([]byte("not-json"))

	assert.Equal(t, float64(1), testutil.ToFloat64(failed.WithLabelValues("unknown", "json_unmarshal")))
}

func TestHandleRabbitMQMessage_Failures(t *testing.T) {
	svc := new(MockCallService)
	svc.On("HandleRecordingReady", mock.Anything, "CA404", "RE1").Return(storage.ErrNotFound)
	handler, processed, failed := newTestHandler(svc)

	handler.HandleRabbitMQMessage([]byte(`{"eventType":"telephony.recording.ready","callSid":"CA404","recordingUrl":"RE1"}`))
	handler.HandleRabbitMQMessage([]byte(`{"eventType":"telephony.call.status","status":"completed"}`))
	handler.HandleRabbitMQMessage([]byte(`{"eventType":"call.started","callSid":"CA1"}`))

	assert.Equal(t, float64(1), testutil.ToFloat64(failed.WithLabelValues("telephony.recording.ready", "unknown_call")))
	assert.Equal(t, float64(1), testutil.ToFloat64(failed.WithLabelValues("telephony.call.status", "invalid_payload")))
	assert.Equal(t, float64(1), testutil.ToFloat64(processed.WithLabelValues("call.started")))
	svc.AssertNotCalled(t, "HandleStatusUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

type echoStreamService struct {
	mu       sync.Mutex
	received []string
	done     chan struct{}
}

func (s *echoStreamService) HandleInboundStream(_ context.Context, telephony relay.Conn) error {
	defer close(s.done)
	_, data, err := telephony.ReadMessage()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.received = append(s.received, string(data))
	s.mu.Unlock()
	return telephony.WriteMessage(websocket.TextMessage, []byte(`{"event":"clear","streamSid":"MZ1"}`))
}

func (s *echoStreamService) ActiveSessionCount() int { return 3 }

func TestStreamHandler_UpgradesAndDelegates(t *testing.T) {
	svc := &echoStreamService{done: make(chan struct{})}
	srv := httptest.NewServer(Routes(NewStreamHandler(svc, zerolog.Nop())))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected"}`)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"clear","streamSid":"MZ1"}`, string(reply))

	select {
	case <-svc.done:
	case <-time.After(3 * time.Second):
		t.Fatal("akış işleyicisi dönmedi")
	}
	svc.mu.Lock()
	assert.Equal(t, []string{`{"event":"connected"}`}, svc.received)
	svc.mu.Unlock()
}

func TestHealthz(t *testing.T) {
	svc := &echoStreamService{done: make(chan struct{})}
	srv := httptest.NewServer(Routes(NewStreamHandler(svc, zerolog.Nop())))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","active_sessions":3}`, string(body))
}
