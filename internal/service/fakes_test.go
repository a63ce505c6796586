package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sentiric/sentiric-receptionist-service/internal/database"
	"github.com/sentiric/sentiric-receptionist-service/internal/notify"
	"github.com/sentiric/sentiric-receptionist-service/internal/relay"
	"github.com/sentiric/sentiric-receptionist-service/internal/state"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
)

type wsFrame struct {
	kind int
	data []byte
}

// chanConn, kanal tabanlı sahte bir WebSocket bağlantısıdır. Kapatıldığında okumalar net.ErrClosed döner.
type chanConn struct {
	in     chan wsFrame
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []wsFrame
}

func newChanConn() *chanConn {
	return &chanConn{in: make(chan wsFrame, 64), closed: make(chan struct{})}
}

func (c *chanConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		return f.kind, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *chanConn) WriteMessage(kind int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, wsFrame{kind: kind, data: append([]byte(nil), data...)})
	return nil
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *chanConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *chanConn) pushText(v string) {
	c.in <- wsFrame{kind: websocket.TextMessage, data: []byte(v)}
}

func (c *chanConn) pushJSON(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- wsFrame{kind: websocket.TextMessage, data: data}
}

func (c *chanConn) writes() []wsFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wsFrame(nil), c.written...)
}

// textWrites, yazılan metin çerçevelerinin JSON olarak çözülmüş halleridir.
func (c *chanConn) textWrites() []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range c.writes() {
		if f.kind != websocket.TextMessage {
			continue
		}
		var m map[string]interface{}
		if json.Unmarshal(f.data, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

type fakeDialer struct {
	conn *chanConn
	err  error
}

func (d *fakeDialer) Dial(context.Context) (relay.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// --- Mock Bağımlılıklar ---
type MockNotifier struct {
	mock.Mock

	mu     sync.Mutex
	counts map[string]int
}

func (m *MockNotifier) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[method]++
}

// count, Eventually içinde yarış olmadan okunabilen çağrı sayısıdır.
func (m *MockNotifier) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[method]
}

func (m *MockNotifier) SendSummary(ctx context.Context, n notify.Notice) error {
	m.record("SendSummary")
	return m.Called(ctx, n).Error(0)
}

func (m *MockNotifier) SendRecordingOnly(ctx context.Context, n notify.Notice) error {
	m.record("SendRecordingOnly")
	return m.Called(ctx, n).Error(0)
}

func (m *MockNotifier) SendCombined(ctx context.Context, n notify.Notice) error {
	m.record("SendCombined")
	return m.Called(ctx, n).Error(0)
}

func (m *MockNotifier) SendSummaryOnly(ctx context.Context, n notify.Notice) error {
	m.record("SendSummaryOnly")
	return m.Called(ctx, n).Error(0)
}

func (m *MockNotifier) SendEscalation(ctx context.Context, callID, callerNumber, reason string) error {
	m.record("SendEscalation")
	return m.Called(ctx, callID, callerNumber, reason).Error(0)
}

func (m *MockNotifier) SendTransferNoAnswer(ctx context.Context, callID, callerNumber string) error {
	m.record("SendTransferNoAnswer")
	return m.Called(ctx, callID, callerNumber).Error(0)
}

// acceptAll, tüm bildirim türlerini başarılı kabul eder; sayımlar AssertNumberOfCalls ile yapılır.
func (m *MockNotifier) acceptAll() *MockNotifier {
	for _, name := range []string{"SendSummary", "SendRecordingOnly", "SendCombined", "SendSummaryOnly"} {
		m.On(name, mock.Anything, mock.Anything).Return(nil).Maybe()
	}
	m.On("SendEscalation", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SendTransferNoAnswer", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

type MockCalls struct {
	mock.Mock
	redirects atomic.Int32
}

func (m *MockCalls) RedirectCall(ctx context.Context, externalCallID, url string) error {
	m.redirects.Add(1)
	return m.Called(ctx, externalCallID, url).Error(0)
}

func (m *MockCalls) count() int {
	return int(m.redirects.Load())
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishJSON(_ context.Context, routingKey string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// faultyStore, gerçek SQL deposunu sarar ve seçilen işlemleri başarısız kılar.
type faultyStore struct {
	storage.Store
	finalizeErr error
}

func (s *faultyStore) FinalizeCall(ctx context.Context, id string, out storage.CallOutcome) error {
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	return s.Store.FinalizeCall(ctx, id, out)
}

var errBoom = errors.New("boom")

type harness struct {
	orch      *Orchestrator
	store     *storage.SQLStore
	notifier  *MockNotifier
	calls     *MockCalls
	agentConn *chanConn
	dialer    *fakeDialer
	publisher *recordingPublisher
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.DriverSQLite, zerolog.Nop()))

	h := &harness{
		store:     storage.NewSQLStore(db, database.DriverSQLite),
		notifier:  new(MockNotifier),
		calls:     new(MockCalls),
		agentConn: newChanConn(),
		publisher: &recordingPublisher{},
	}
	h.dialer = &fakeDialer{conn: h.agentConn}
	if opts.TransferURL == "" {
		opts.TransferURL = "https://twiml.example.com/transfer"
	}
	if opts.NoAnswerURL == "" {
		opts.NoAnswerURL = "https://twiml.example.com/no-answer"
	}
	if opts.ApologyURL == "" {
		opts.ApologyURL = "https://twiml.example.com/apology"
	}
	h.orch = NewOrchestrator(Deps{
		Store:     h.store,
		Notifier:  h.notifier,
		Calls:     h.calls,
		Dialer:    h.dialer,
		Guard:     state.NewMemoryGuard(),
		Publisher: h.publisher,
		Log:       zerolog.Nop(),
	}, opts)
	return h
}

// drain, orkestratörün arka plan işlerinin bitmesini bekler.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, h.orch.tracker.Wait(ctx), "arka plan işleri bitmedi")
}
