package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-apime/relay/internal/transport"
	"github.com/open-apime/relay/internal/transport/transporttest"
)

const (
	selfAddr    = "5511000000000@s.whatsapp.net"
	contactAddr = "5511999999999@s.whatsapp.net"
	waitFor     = time.Second
	tick        = 5 * time.Millisecond
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) Schedule(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

func (s *fakeScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

// FireLast executa o timer mais recente, mesmo que tenha sido parado.
func (s *fakeScheduler) FireLast() {
	if t := s.last(); t != nil {
		t.fn()
	}
}

type fakeMetrics struct {
	mu       sync.Mutex
	received int
	sent     int
}

func (m *fakeMetrics) TrackReceived(string) {
	m.mu.Lock()
	m.received++
	m.mu.Unlock()
}

func (m *fakeMetrics) TrackSent(string) {
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
}

func (m *fakeMetrics) TrackTypebot(string, bool, time.Duration) {}

func (m *fakeMetrics) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received, m.sent
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []transport.Message
}

func (d *recordingDispatcher) Dispatch(t Target, msg transport.Message) {
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	d.mu.Unlock()
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

type harness struct {
	inst       *Instance
	factory    *transporttest.Factory
	sched      *fakeScheduler
	metrics    *fakeMetrics
	dispatcher *recordingDispatcher

	mu          sync.Mutex
	transitions [][2]Status
	registered  bool
}

func newHarness(t *testing.T, credentials bool) *harness {
	t.Helper()
	h := &harness{
		factory: &transporttest.Factory{
			NewFunc: func(string) *transporttest.Session {
				return transporttest.NewSession(selfAddr, credentials)
			},
		},
		sched:      &fakeScheduler{},
		metrics:    &fakeMetrics{},
		dispatcher: &recordingDispatcher{},
		registered: true,
	}
	isRegistered := func(string) bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.registered
	}
	onStatus := func(_ string, from, to Status) {
		h.mu.Lock()
		h.transitions = append(h.transitions, [2]Status{from, to})
		h.mu.Unlock()
	}
	h.inst = NewInstance(Options{
		ID:             "loja",
		Dir:            t.TempDir(),
		Factory:        h.factory,
		Dispatcher:     h.dispatcher,
		Metrics:        h.metrics,
		Schedule:       h.sched.Schedule,
		IsRegistered:   isRegistered,
		OnStatusChange: onStatus,
	})
	t.Cleanup(h.inst.Close)
	return h
}

func (h *harness) waitStatus(t *testing.T, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return h.inst.Status() == want }, waitFor, tick,
		"status esperado %s, atual %s", want, h.inst.Status())
}

func (h *harness) waitTimers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sched.Count() == n }, waitFor, tick)
}

func (h *harness) history() [][2]Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][2]Status(nil), h.transitions...)
}

func TestPairingFlow(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.inst.Init(context.Background()))
	assert.Equal(t, StatusConnecting, h.inst.Status())

	sess := h.factory.Last()
	sess.Emit(transport.EventQR{Code: "2@abc"})
	h.waitStatus(t, StatusQR)

	code, ok := h.inst.QR()
	assert.True(t, ok)
	assert.Equal(t, "2@abc", code)
	assert.True(t, h.inst.Info().HasQR)

	sess.SetCredentials(true)
	sess.Emit(transport.EventOpen{})
	h.waitStatus(t, StatusConnected)

	_, ok = h.inst.QR()
	assert.False(t, ok)
	assert.Equal(t, 0, h.inst.Attempts())
	assert.Equal(t, 0, h.sched.Count())
}

func TestPairingCloseKeepsLastQR(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.inst.Init(context.Background()))

	h.factory.Last().Emit(transport.EventQR{Code: "2@abc"})
	h.waitStatus(t, StatusQR)

	h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	h.waitTimers(t, 1)

	assert.Equal(t, StatusQR, h.inst.Status())
	assert.Equal(t, 1, h.inst.Attempts())
	code, ok := h.inst.QR()
	assert.True(t, ok)
	assert.Equal(t, "2@abc", code)
	assert.True(t, h.inst.Info().HasQR)
}

func TestPairingRetryDelays(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.inst.Init(context.Background()))

	want := []time.Duration{
		3 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second,
		3 * time.Second,
	}
	for n := 1; n <= len(want); n++ {
		h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonQRTimeout})
		h.waitTimers(t, n)
		assert.Equal(t, StatusQR, h.inst.Status())
		h.sched.FireLast()
		require.Len(t, h.factory.Sessions(), n+1)
	}

	assert.Equal(t, want, h.sched.Delays())
}

func TestPairingAttemptsResetAfterFive(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.inst.Init(context.Background()))

	for n := 1; n <= 5; n++ {
		h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonQRTimeout})
		h.waitTimers(t, n)
		if n < 5 {
			assert.Equal(t, n, h.inst.Attempts())
		}
		h.sched.FireLast()
	}
	assert.Equal(t, 0, h.inst.Attempts())
}

func TestReconnectBackoffWithCredentials(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.inst.Init(context.Background()))
	h.factory.Last().Emit(transport.EventOpen{})
	h.waitStatus(t, StatusConnected)

	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for n := 1; n <= len(want); n++ {
		h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonConnectionLost, Err: errors.New("stream end")})
		h.waitTimers(t, n)
		assert.Equal(t, StatusDisconnected, h.inst.Status())
		assert.Equal(t, n, h.inst.Attempts())
		h.sched.FireLast()
		assert.Equal(t, StatusConnecting, h.inst.Status())
	}
	assert.Equal(t, want, h.sched.Delays())

	h.factory.Last().Emit(transport.EventOpen{})
	h.waitStatus(t, StatusConnected)
	assert.Equal(t, 0, h.inst.Attempts())
}

func TestLoggedOutIsTerminal(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.inst.Init(context.Background()))
	sess := h.factory.Last()
	sess.Emit(transport.EventOpen{})
	h.waitStatus(t, StatusConnected)

	sess.Emit(transport.EventClose{Reason: transport.ReasonLoggedOut})
	h.waitStatus(t, StatusDisconnected)

	assert.Equal(t, 0, h.inst.Attempts())
	assert.Equal(t, 0, h.sched.Count())
	require.Eventually(t, sess.Closed, waitFor, tick)
}

func TestLoggedOutCheckedBeforeCredentials(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.inst.Init(context.Background()))

	h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonLoggedOut})
	h.waitStatus(t, StatusDisconnected)
	assert.Never(t, func() bool { return h.sched.Count() > 0 }, 50*time.Millisecond, tick)
}

func TestDisconnectedNeverJumpsToConnected(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.inst.Init(context.Background()))
	h.factory.Last().Emit(transport.EventOpen{})
	h.waitStatus(t, StatusConnected)
	h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	h.waitTimers(t, 1)
	h.sched.FireLast()
	h.factory.Last().Emit(transport.EventOpen{})
	h.waitStatus(t, StatusConnected)

	h.inst.mu.Lock()
	h.inst.status = StatusDisconnected
	h.inst.setStatusLocked(StatusConnected)
	h.inst.mu.Unlock()

	for _, tr := range h.history() {
		assert.True(t, canTransition(tr[0], tr[1]), "transição %s -> %s", tr[0], tr[1])
		assert.False(t, tr[0] == StatusDisconnected && tr[1] == StatusConnected)
	}
	hist := h.history()
	assert.Equal(t, [2]Status{StatusDisconnected, StatusConnecting}, hist[len(hist)-2])
	assert.Equal(t, [2]Status{StatusConnecting, StatusConnected}, hist[len(hist)-1])
}

func TestInitFailureRestoresPriorStatus(t *testing.T) {
	h := newHarness(t, true)
	boom := errors.New("sqlite bloqueado")
	h.factory.FailWith(boom)

	err := h.inst.Init(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusDisconnected, h.inst.Status())

	err = h.inst.Init(context.Background())
	assert.ErrorIs(t, err, boom, "a flag de inicialização deve ser liberada após falha")

	h.factory.FailWith(nil)
	require.NoError(t, h.inst.Init(context.Background()))
	assert.Equal(t, StatusConnecting, h.inst.Status())
}

func TestConnectFailureClosesSession(t *testing.T) {
	h := newHarness(t, true)
	boom := errors.New("sem rede")
	h.factory.NewFunc = func(string) *transporttest.Session {
		s := transporttest.NewSession(selfAddr, true)
		s.ConnectErr = boom
		return s
	}

	assert.ErrorIs(t, h.inst.Init(context.Background()), boom)
	assert.Equal(t, StatusDisconnected, h.inst.Status())
	assert.True(t, h.factory.Last().Closed())
}

func TestRetryFailureSchedulesAgain(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.inst.Init(context.Background()))
	h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	h.waitTimers(t, 1)

	h.factory.FailWith(errors.New("indisponível"))
	h.sched.FireLast()

	assert.Equal(t, 2, h.sched.Count())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, h.sched.Delays())
	assert.Equal(t, StatusDisconnected, h.inst.Status())
}

func TestConcurrentInitIsIgnored(t *testing.T) {
	h := newHarness(t, false)
	release := make(chan struct{})
	h.factory.NewFunc = func(string) *transporttest.Session {
		<-release
		return transporttest.NewSession(selfAddr, false)
	}

	done := make(chan error, 1)
	go func() { done <- h.inst.Init(context.Background()) }()
	h.waitStatus(t, StatusConnecting)

	assert.NoError(t, h.inst.Init(context.Background()))
	close(release)
	require.NoError(t, <-done)
	assert.Len(t, h.factory.Sessions(), 1)
}

func TestReinitDetachesPreviousSession(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.inst.Init(context.Background()))
	first := h.factory.Last()

	require.NoError(t, h.inst.Init(context.Background()))
	assert.True(t, first.Closed())
	assert.Len(t, h.factory.Sessions(), 2)

	first.Emit(transport.EventOpen{})
	assert.Never(t, func() bool { return h.inst.Status() == StatusConnected }, 50*time.Millisecond, tick)
}

func TestCloseCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.inst.Init(context.Background()))
	h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	h.waitTimers(t, 1)

	h.inst.Close()
	assert.True(t, h.sched.last().stopped)

	h.sched.FireLast()
	assert.Len(t, h.factory.Sessions(), 1)
	assert.ErrorIs(t, h.inst.Init(context.Background()), ErrClosed)
}

func TestRetrySkippedWhenUnregistered(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.inst.Init(context.Background()))
	h.factory.Last().Emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	h.waitTimers(t, 1)

	h.mu.Lock()
	h.registered = false
	h.mu.Unlock()
	h.sched.FireLast()

	assert.Len(t, h.factory.Sessions(), 1)
}

func connect(t *testing.T, h *harness) *transporttest.Session {
	t.Helper()
	require.NoError(t, h.inst.Init(context.Background()))
	sess := h.factory.Last()
	sess.Emit(transport.EventOpen{})
	h.waitStatus(t, StatusConnected)
	return sess
}

func TestDuplicateMessageDispatchedOnce(t *testing.T) {
	h := newHarness(t, true)
	sess := connect(t, h)

	msg := transport.Message{ID: "ABC", From: contactAddr, Text: "oi"}
	sess.Emit(transport.EventMessage{Message: msg})
	sess.Emit(transport.EventMessage{Message: msg})

	require.Eventually(t, func() bool { r, _ := h.metrics.counts(); return r == 2 }, waitFor, tick)
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestPausedMessageCountedButNotDispatched(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.inst.UpdateSettings(SettingsPatch{IsPaused: boolPtr(true)})
	require.NoError(t, err)
	sess := connect(t, h)

	sess.Emit(transport.EventMessage{Message: transport.Message{ID: "P1", From: contactAddr, Text: "oi"}})

	require.Eventually(t, func() bool { r, _ := h.metrics.counts(); return r == 1 }, waitFor, tick)
	assert.Equal(t, 0, h.dispatcher.count())
	assert.True(t, h.inst.Info().IsPaused)
}

func TestSelfChatRoutedForeignSelfSendDropped(t *testing.T) {
	h := newHarness(t, true)
	sess := connect(t, h)

	sess.Emit(transport.EventMessage{Message: transport.Message{ID: "S1", From: selfAddr, Text: "teste", IsFromMe: true}})
	sess.Emit(transport.EventMessage{Message: transport.Message{ID: "S2", From: contactAddr, Text: "olá", IsFromMe: true}})

	require.Eventually(t, func() bool { _, s := h.metrics.counts(); return s == 2 }, waitFor, tick)
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestSendRecordsOutboundIDInDedup(t *testing.T) {
	h := newHarness(t, true)
	sess := connect(t, h)

	id, err := h.inst.Send(context.Background(), selfAddr, transport.Outbound{Text: "resposta"})
	require.NoError(t, err)
	assert.Equal(t, "OUT1", id)

	sess.Emit(transport.EventMessage{Message: transport.Message{ID: id, From: selfAddr, Text: "resposta", IsFromMe: true}})
	require.Eventually(t, func() bool { _, s := h.metrics.counts(); return s == 2 }, waitFor, tick)
	assert.Equal(t, 0, h.dispatcher.count())
}

func TestSendWithoutSession(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.inst.Send(context.Background(), contactAddr, transport.Outbound{Text: "x"})
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, h.inst.SendPresence(context.Background(), contactAddr, transport.PresenceComposing), transport.ErrClosed)
}

func TestLogoutBestEffort(t *testing.T) {
	h := newHarness(t, true)
	sess := connect(t, h)
	sess.LogoutErr = errors.New("timeout")

	assert.Error(t, h.inst.Logout(context.Background()))
	h.inst.Close()
	assert.True(t, sess.Closed())
	assert.Equal(t, StatusDisconnected, h.inst.Status())
}

func TestSettingsPersistAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first := NewInstance(Options{ID: "loja", Dir: dir, Factory: &transporttest.Factory{}})
	_, err := first.UpdateSettings(SettingsPatch{TypebotURL: strPtr("https://bot.example.com"), TypebotName: strPtr("vendas")})
	require.NoError(t, err)

	_, err = first.UpdateSettings(SettingsPatch{N8NURL: strPtr("nao-e-url")})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	second := NewInstance(Options{ID: "loja", Dir: dir, Factory: &transporttest.Factory{}})
	assert.True(t, second.Settings().HasTypebot())
	assert.Empty(t, second.Settings().N8NURL)
}

func TestDelays(t *testing.T) {
	assert.Equal(t, 3*time.Second, pairingDelay(1))
	assert.Equal(t, 5*time.Second, pairingDelay(2))
	assert.Equal(t, 10*time.Second, pairingDelay(7))
	assert.Equal(t, 5*time.Second, reconnectDelay(1))
	assert.Equal(t, 40*time.Second, reconnectDelay(4))
	assert.Equal(t, 60*time.Second, reconnectDelay(30))
}
