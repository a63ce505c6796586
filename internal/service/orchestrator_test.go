package service

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sentiric/sentiric-receptionist-service/internal/agent"
	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/metrics"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/notify"
	"github.com/sentiric/sentiric-receptionist-service/internal/session"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// liveSession, pompalar çalışmadan kayıt defterine eklenmiş bir oturum hazırlar.
func (h *harness) liveSession(t *testing.T, externalID string) (*session.Session, *chanConn, *chanConn) {
	t.Helper()
	rec, err := h.store.EnsureCallRecord(context.Background(), storage.CallInit{ExternalCallID: externalID, CallerNumber: "+15551230000"})
	require.NoError(t, err)
	tel, ag := newChanConn(), newChanConn()
	s, err := h.orch.registry.Create(session.Params{
		ID:             rec.ID,
		ExternalCallID: externalID,
		StreamID:       "MZ-" + externalID,
		CallerNumber:   rec.CallerNumber,
		Language:       "en",
		Telephony:      tel,
	})
	require.NoError(t, err)
	s.AttachAgent(ag)
	return s, tel, ag
}

func startFrame(streamSID, callSID string) string {
	return `{"event":"start","streamSid":"` + streamSID + `","start":{"streamSid":"` + streamSID + `","callSid":"` + callSID +
		`","customParameters":{"from":"+15550001111","to":"+15550002222"}}}`
}

func TestHandleInboundStream_FullCall(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	tel := newChanConn()
	finalized := metrics.CallsFinalized.WithLabelValues(string(constants.EndReasonStreamStop), summarySourceAgent)
	before := testutil.ToFloat64(finalized)

	done := make(chan error, 1)
	go func() { done <- h.orch.HandleInboundStream(context.Background(), tel) }()

	tel.pushText(`{"event":"connected"}`)
	tel.pushText(startFrame("MZ1", "CA1"))
	require.Eventually(t, func() bool { return h.orch.ActiveSessionCount() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(h.agentConn.textWrites()) >= 1 }, waitFor, tick)
	assert.Equal(t, "session.config", h.agentConn.textWrites()[0]["type"])

	audio := []byte{0x7f, 0x00, 0xff}
	tel.pushText(`{"event":"media","streamSid":"MZ1","media":{"payload":"` + base64.StdEncoding.EncodeToString(audio) + `"}}`)
	require.Eventually(t, func() bool {
		for _, f := range h.agentConn.writes() {
			if f.kind == websocket.BinaryMessage {
				return assert.ObjectsAreEqual(audio, f.data)
			}
		}
		return false
	}, waitFor, tick)

	h.agentConn.pushJSON(t, map[string]interface{}{"type": "conversation_turn", "role": "user", "text": "Hi, this is Sarah."})
	h.agentConn.pushJSON(t, map[string]interface{}{"type": "conversation_turn", "role": "assistant", "text": "Thanks Sarah, what is it about?"})
	h.agentConn.pushJSON(t, map[string]interface{}{
		"type":    "function_call",
		"name":    agent.ToolSubmitSummary,
		"call_id": "fc-1",
		"arguments": map[string]interface{}{
			"caller_name":      "Sarah",
			"reason":           "Contract renewal",
			"urgency":          "high",
			"confidence_score": 0.9,
			"narrative":        "Sarah wants to discuss the contract renewal before Friday.",
		},
	})
	h.agentConn.in <- wsFrame{kind: websocket.BinaryMessage, data: []byte{0x01, 0x02}}

	require.Eventually(t, func() bool {
		s, ok := h.orch.registry.Get("MZ1")
		return ok && s.Summary() != nil && len(s.Transcript()) == 2
	}, waitFor, tick)
	s, _ := h.orch.registry.Get("MZ1")
	assert.Equal(t, constants.StateActive, s.State())

	tel.pushText(`{"event":"stop","streamSid":"MZ1"}`)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("akış sonlanmadı")
	}
	h.drain(t)

	rec, err := h.store.GetCallByExternalID(context.Background(), "CA1")
	require.NoError(t, err)
	assert.True(t, rec.Finalized())
	assert.Equal(t, string(constants.CallStatusCompleted), rec.Status)
	assert.Equal(t, string(constants.EndReasonStreamStop), rec.EndReason)
	assert.Equal(t, "+15550001111", rec.CallerNumber)
	assert.False(t, rec.UsedFallback)
	assert.True(t, rec.SummaryNotified)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, model.UrgencyHigh, rec.Summary.Urgency)
	assert.Equal(t, 0.9, rec.Summary.ConfidenceScore)

	turns, err := h.store.ListTurns(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleCaller, turns[0].Role)

	h.notifier.AssertNumberOfCalls(t, "SendSummary", 1)
	h.notifier.AssertCalled(t, "SendSummary", mock.Anything, mock.MatchedBy(func(n notify.Notice) bool {
		return n.CallID == rec.ID && n.Summary.Reason == "Contract renewal" &&
			n.Transcript == "Caller: Hi, this is Sarah.\nAgent: Thanks Sarah, what is it about?"
	}))

	var acked bool
	for _, m := range h.agentConn.textWrites() {
		if m["type"] == "function_result" && m["call_id"] == "fc-1" {
			acked = assert.Equal(t, map[string]interface{}{"status": "saved"}, m["output"])
		}
	}
	assert.True(t, acked, "özet onaylanmadı")

	var forwarded bool
	for _, m := range tel.textWrites() {
		if m["event"] == "media" {
			forwarded = true
		}
	}
	assert.True(t, forwarded, "ajan sesi telefona iletilmedi")
	assert.True(t, tel.isClosed())
	assert.True(t, h.agentConn.isClosed())
	assert.Equal(t, 0, h.orch.ActiveSessionCount())
	assert.Contains(t, h.publisher.keys(), string(constants.EventTypeCallFinalized))
	assert.Equal(t, float64(1), testutil.ToFloat64(finalized)-before)
}

func outputsFor(conn *chanConn, callID string) []interface{} {
	var out []interface{}
	for _, m := range functionResults(conn) {
		if m["call_id"] == callID {
			out = append(out, m["output"])
		}
	}
	return out
}

func TestHandleInboundStream_InvalidToolArgumentsAreAcked(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	tel := newChanConn()

	done := make(chan error, 1)
	go func() { done <- h.orch.HandleInboundStream(context.Background(), tel) }()
	tel.pushText(startFrame("MZ5", "CA5"))
	require.Eventually(t, func() bool { return h.orch.ActiveSessionCount() == 1 }, waitFor, tick)

	h.agentConn.pushJSON(t, map[string]interface{}{
		"type":      "function_call",
		"name":      agent.ToolSubmitSummary,
		"call_id":   "fc-bad",
		"arguments": []int{1, 2},
	})
	h.agentConn.pushJSON(t, map[string]interface{}{
		"type":    "function_call",
		"name":    agent.ToolSubmitSummary,
		"call_id": "fc-typed",
		"arguments": map[string]interface{}{
			"reason":           "Roof leak",
			"urgency":          2,
			"confidence_score": "0.9",
		},
	})

	require.Eventually(t, func() bool { return len(outputsFor(h.agentConn, "fc-typed")) == 1 }, waitFor, tick)
	assert.Equal(t, []interface{}{map[string]interface{}{"status": "error", "error": "invalid_arguments"}}, outputsFor(h.agentConn, "fc-bad"))
	assert.Equal(t, []interface{}{map[string]interface{}{"status": "saved"}}, outputsFor(h.agentConn, "fc-typed"))

	tel.pushText(`{"event":"stop","streamSid":"MZ5"}`)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("akış sonlanmadı")
	}
	h.drain(t)

	rec, err := h.store.GetCallByExternalID(context.Background(), "CA5")
	require.NoError(t, err)
	assert.False(t, rec.UsedFallback)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, "Roof leak", rec.Summary.Reason)
	assert.Equal(t, model.UrgencyMedium, rec.Summary.Urgency)
	assert.Equal(t, 0.9, rec.Summary.ConfidenceScore)
}

func TestHandleInboundStream_StreamClosedBeforeStart(t *testing.T) {
	h := newHarness(t, Options{})
	tel := newChanConn()
	tel.pushText(`{"event":"connected"}`)
	tel.pushText(`{"event":"stop"}`)

	err := h.orch.HandleInboundStream(context.Background(), tel)
	assert.Error(t, err)
	assert.Equal(t, 0, h.orch.ActiveSessionCount())
	h.notifier.AssertNotCalled(t, "SendSummary", mock.Anything, mock.Anything)
}

func TestHandleInboundStream_AgentUnavailable(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	h.dialer.err = agent.ErrAgentUnavailable
	h.calls.On("RedirectCall", mock.Anything, "CA2", "https://twiml.example.com/apology").Return(nil).Once()

	tel := newChanConn()
	tel.pushText(startFrame("MZ2", "CA2"))
	require.NoError(t, h.orch.HandleInboundStream(context.Background(), tel))
	h.drain(t)

	h.calls.AssertExpectations(t)
	rec, err := h.store.GetCallByExternalID(context.Background(), "CA2")
	require.NoError(t, err)
	assert.Equal(t, string(constants.EndReasonAgentFailed), rec.EndReason)
	assert.True(t, rec.UsedFallback)
	assert.Equal(t, 0.2, rec.Summary.ConfidenceScore)
	h.notifier.AssertNumberOfCalls(t, "SendSummary", 1)
	assert.True(t, tel.isClosed())
}

func TestHandleInboundStream_DuplicateStreamRejected(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	s, _, _ := h.liveSession(t, "CA3")

	tel := newChanConn()
	tel.pushText(startFrame(s.StreamID, "CA3"))
	err := h.orch.HandleInboundStream(context.Background(), tel)
	assert.ErrorIs(t, err, session.ErrSessionExists)
	assert.True(t, tel.isClosed())
	assert.Equal(t, 1, h.orch.ActiveSessionCount())
}

func TestFinalize_IdempotentAcrossTriggers(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	s, tel, ag := h.liveSession(t, "CA10")

	reasons := []constants.EndReason{
		constants.EndReasonStreamStop, constants.EndReasonTelephonyClose, constants.EndReasonTelephonyError,
		constants.EndReasonAgentClose, constants.EndReasonAgentError, constants.EndReasonMaxDuration,
	}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for _, r := range reasons {
			wg.Add(2)
			go func(r constants.EndReason) {
				defer wg.Done()
				h.orch.endSession(s, r)
			}(r)
			go func(r constants.EndReason) {
				defer wg.Done()
				h.orch.finalize(s, r)
			}(r)
		}
	}
	wg.Wait()
	h.drain(t)

	h.notifier.AssertNumberOfCalls(t, "SendSummary", 1)
	rec, err := h.store.GetCall(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, rec.Finalized())
	assert.Contains(t, reasons, constants.EndReason(rec.EndReason))
	assert.Equal(t, constants.StateClosed, s.State())
	assert.True(t, tel.isClosed())
	assert.True(t, ag.isClosed())
	assert.Equal(t, 1, countKey(h.publisher.keys(), string(constants.EventTypeCallFinalized)))
}

func countKey(keys []string, key string) int {
	n := 0
	for _, k := range keys {
		if k == key {
			n++
		}
	}
	return n
}

func TestFinalize_SummaryIsFrozenAfterEnd(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	s, _, _ := h.liveSession(t, "CA11")
	s.AppendTurn(model.RoleCaller, "Hi this is Sarah")
	s.AppendTurn(model.RoleCaller, "I'm calling about the contract renewal, please call me back")

	h.orch.finalize(s, constants.EndReasonTelephonyClose)
	assert.False(t, s.SetSummary(&model.Summary{Reason: "late", Urgency: model.UrgencyLow}))

	rec, err := h.store.GetCall(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, rec.UsedFallback)
	assert.Equal(t, model.UrgencyMedium, rec.Summary.Urgency)
	assert.Equal(t, 0.2, rec.Summary.ConfidenceScore)
	assert.Equal(t, "Hi this is Sarah I'm calling about the contract renewal, please call me back", rec.Summary.Reason)
}

func TestFinalize_PersistFailureStillNotifiesAndMarksFailed(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	h.orch.deps.Store = &faultyStore{Store: h.store, finalizeErr: errBoom}
	s, _, _ := h.liveSession(t, "CA12")

	h.orch.finalize(s, constants.EndReasonStreamStop)

	h.notifier.AssertNumberOfCalls(t, "SendSummary", 1)
	rec, err := h.store.GetCall(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CallStatusFailed), rec.Status)
}

func TestFinalize_NotificationFailureMarksFailed(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.On("SendSummary", mock.Anything, mock.Anything).Return(errBoom).Once()
	s, _, _ := h.liveSession(t, "CA13")

	h.orch.finalize(s, constants.EndReasonStreamStop)

	rec, err := h.store.GetCall(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, rec.Finalized())
	assert.Equal(t, string(constants.CallStatusFailed), rec.Status)
	assert.False(t, rec.SummaryNotified)
}

func TestRecordingRace_RecordingAfterFinalize(t *testing.T) {
	h := newHarness(t, Options{RecordingFallbackDelay: 20 * time.Millisecond})
	h.notifier.acceptAll()
	ctx := context.Background()
	s, _, _ := h.liveSession(t, "CA20")

	h.orch.finalize(s, constants.EndReasonStreamStop)
	require.NoError(t, h.orch.HandleStatusUpdate(ctx, "CA20", "completed", 42))
	require.NoError(t, h.orch.HandleRecordingReady(ctx, "CA20", "https://rec.example.com/RE1.wav"))
	require.NoError(t, h.orch.HandleRecordingReady(ctx, "CA20", "https://rec.example.com/RE1.wav"))

	time.Sleep(100 * time.Millisecond)
	h.drain(t)

	h.notifier.AssertNumberOfCalls(t, "SendSummary", 1)
	h.notifier.AssertNumberOfCalls(t, "SendRecordingOnly", 1)
	h.notifier.AssertNumberOfCalls(t, "SendSummaryOnly", 0)
	h.notifier.AssertNumberOfCalls(t, "SendCombined", 0)
	h.notifier.AssertCalled(t, "SendRecordingOnly", mock.Anything, mock.MatchedBy(func(n notify.Notice) bool {
		return n.RecordingRef == "https://rec.example.com/RE1.wav" && n.CallID == s.ID
	}))
}

func TestRecordingRace_RecordingBeforeFinalize(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	ctx := context.Background()
	s, _, _ := h.liveSession(t, "CA21")

	require.NoError(t, h.orch.HandleRecordingReady(ctx, "CA21", "RE2.wav"))
	h.notifier.AssertNumberOfCalls(t, "SendRecordingOnly", 0)

	h.orch.finalize(s, constants.EndReasonStreamStop)

	h.notifier.AssertNumberOfCalls(t, "SendCombined", 1)
	h.notifier.AssertNumberOfCalls(t, "SendSummary", 0)
	h.notifier.AssertCalled(t, "SendCombined", mock.Anything, mock.MatchedBy(func(n notify.Notice) bool {
		return n.RecordingRef == "RE2.wav"
	}))
}

func TestRecordingRace_RecordingAfterFailedFinalize(t *testing.T) {
	h := newHarness(t, Options{RecordingFallbackDelay: 20 * time.Millisecond})
	h.notifier.acceptAll()
	h.orch.deps.Store = &faultyStore{Store: h.store, finalizeErr: errBoom}
	ctx := context.Background()
	s, _, _ := h.liveSession(t, "CA24")

	h.orch.finalize(s, constants.EndReasonStreamStop)
	rec, err := h.store.GetCall(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, rec.Finalized())
	assert.Equal(t, string(constants.CallStatusFailed), rec.Status)

	require.NoError(t, h.orch.HandleStatusUpdate(ctx, "CA24", "completed", 12))
	require.NoError(t, h.orch.HandleRecordingReady(ctx, "CA24", "RE24.wav"))
	time.Sleep(100 * time.Millisecond)
	h.drain(t)

	h.notifier.AssertNumberOfCalls(t, "SendSummary", 1)
	h.notifier.AssertNumberOfCalls(t, "SendRecordingOnly", 1)
	h.notifier.AssertNumberOfCalls(t, "SendSummaryOnly", 0)
	h.notifier.AssertCalled(t, "SendRecordingOnly", mock.Anything, mock.MatchedBy(func(n notify.Notice) bool {
		return n.RecordingRef == "RE24.wav" && n.CallID == s.ID
	}))
}

func TestRecordingFallback_FailedFinalizeStillFallsBack(t *testing.T) {
	h := newHarness(t, Options{RecordingFallbackDelay: 20 * time.Millisecond})
	h.notifier.acceptAll()
	h.orch.deps.Store = &faultyStore{Store: h.store, finalizeErr: errBoom}
	ctx := context.Background()
	s, _, _ := h.liveSession(t, "CA25")

	h.orch.finalize(s, constants.EndReasonStreamStop)
	require.NoError(t, h.orch.HandleStatusUpdate(ctx, "CA25", "completed", 12))

	require.Eventually(t, func() bool { return h.notifier.count("SendSummaryOnly") == 1 }, waitFor, tick)
	h.drain(t)
	h.notifier.AssertNumberOfCalls(t, "SendRecordingOnly", 0)
}

func TestRecordingFallback_NoRecordingArrives(t *testing.T) {
	h := newHarness(t, Options{RecordingFallbackDelay: 20 * time.Millisecond})
	h.notifier.acceptAll()
	ctx := context.Background()
	s, _, _ := h.liveSession(t, "CA22")
	s.AppendTurn(model.RoleCaller, "Please call me back")

	h.orch.finalize(s, constants.EndReasonStreamStop)
	require.NoError(t, h.orch.HandleStatusUpdate(ctx, "CA22", "completed", 30))
	require.NoError(t, h.orch.HandleStatusUpdate(ctx, "CA22", "completed", 30))

	require.Eventually(t, func() bool { return h.notifier.count("SendSummaryOnly") == 1 }, waitFor, tick)
	h.drain(t)

	require.NoError(t, h.orch.HandleRecordingReady(ctx, "CA22", "RE3.wav"))
	h.notifier.AssertNumberOfCalls(t, "SendSummaryOnly", 1)
	h.notifier.AssertNumberOfCalls(t, "SendRecordingOnly", 0)
}

func TestRecordingFallback_WaitsForLiveSession(t *testing.T) {
	h := newHarness(t, Options{RecordingFallbackDelay: 10 * time.Millisecond})
	h.notifier.acceptAll()
	ctx := context.Background()
	h.liveSession(t, "CA23")

	require.NoError(t, h.orch.HandleStatusUpdate(ctx, "CA23", "completed", 5))
	time.Sleep(100 * time.Millisecond)
	h.drain(t)
	h.notifier.AssertNumberOfCalls(t, "SendSummaryOnly", 0)
}

func TestHandleStatusUpdate_UnknownCallIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	assert.NoError(t, h.orch.HandleStatusUpdate(context.Background(), "CA-missing", "completed", 1))
	assert.Empty(t, h.orch.fallbackTimers)
}

func TestMaxDurationTimerFinalizes(t *testing.T) {
	h := newHarness(t, Options{MaxCallDuration: 30 * time.Millisecond})
	h.notifier.acceptAll()
	tel := newChanConn()

	done := make(chan error, 1)
	go func() { done <- h.orch.HandleInboundStream(context.Background(), tel) }()
	tel.pushText(startFrame("MZ30", "CA30"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("azami süre zamanlayıcısı çalışmadı")
	}
	h.drain(t)

	rec, err := h.store.GetCallByExternalID(context.Background(), "CA30")
	require.NoError(t, err)
	assert.Equal(t, string(constants.EndReasonMaxDuration), rec.EndReason)
}

func TestShutdownFinalizesLiveSessions(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.acceptAll()
	a, _, _ := h.liveSession(t, "CA40")
	b, _, _ := h.liveSession(t, "CA41")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	assert.Equal(t, 0, h.orch.ActiveSessionCount())
	for _, s := range []*session.Session{a, b} {
		rec, err := h.store.GetCall(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, string(constants.EndReasonShutdown), rec.EndReason)
	}
	h.notifier.AssertNumberOfCalls(t, "SendSummary", 2)
}
