package call_test

import (
	"context"
	"sync"

	"github.com/arzzra/webcall/pkg/call"
)

// mockSession реализует call.Session для тестов без живого транспорта.
type mockSession struct {
	mu sync.Mutex

	callID      string
	displayName string
	user        string
	headers     map[string]string

	subscriber func(call.Event)
	pc         *mockPeerConnection

	acceptCalls    int
	rejectCalls    int
	byeCalls       int
	holdCalls      int
	unholdCalls    int
	referCalls     int
	referTargets   []string
	terminateCalls int

	commandErr error
}

func newMockSession(callID string) *mockSession {
	return &mockSession{
		callID:  callID,
		headers: make(map[string]string),
		pc:      &mockPeerConnection{},
	}
}

func (s *mockSession) CallID() string            { return s.callID }
func (s *mockSession) RemoteDisplayName() string { return s.displayName }
func (s *mockSession) RemoteUser() string        { return s.user }

func (s *mockSession) RemoteHeader(name string) string {
	return s.headers[name]
}

func (s *mockSession) Subscribe(fn func(call.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriber = fn
}

// Emit доставляет событие подписчику, как это делает транспорт:
// вне стека команды.
func (s *mockSession) Emit(ev call.Event) {
	s.mu.Lock()
	fn := s.subscriber
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *mockSession) Accept(_ context.Context, _ call.MediaConstraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptCalls++
	return s.commandErr
}

func (s *mockSession) Reject(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectCalls++
	return s.commandErr
}

func (s *mockSession) Bye(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byeCalls++
	return s.commandErr
}

func (s *mockSession) Hold(_ context.Context, _ call.MediaConstraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdCalls++
	return s.commandErr
}

func (s *mockSession) Unhold(_ context.Context, _ call.MediaConstraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unholdCalls++
	return s.commandErr
}

func (s *mockSession) Refer(_ context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referCalls++
	s.referTargets = append(s.referTargets, target)
	return s.commandErr
}

func (s *mockSession) ReferReplace(_ context.Context, _ call.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referCalls++
	return s.commandErr
}

func (s *mockSession) Terminate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminateCalls++
	return s.commandErr
}

func (s *mockSession) PeerConnection() call.PeerConnection { return s.pc }

// mockPeerConnection - управляемый снимок медиа-соединения.
type mockPeerConnection struct {
	mu        sync.Mutex
	receivers []call.Track
	senders   []call.Track
}

func (pc *mockPeerConnection) setTracks(receivers, senders []call.Track) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.receivers = receivers
	pc.senders = senders
}

func (pc *mockPeerConnection) Receivers() []call.Track {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]call.Track(nil), pc.receivers...)
}

func (pc *mockPeerConnection) Senders() []call.Track {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]call.Track(nil), pc.senders...)
}

// mockTransport возвращает заранее подготовленный сеанс на Invite.
type mockTransport struct {
	mu       sync.Mutex
	session  *mockSession
	err      error
	invites  int
	lastDial string
}

func (t *mockTransport) Invite(_ context.Context, target string, _ call.MediaConstraints) (call.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invites++
	t.lastDial = target
	if t.err != nil {
		return nil, t.err
	}
	return t.session, nil
}

// mockNotifier фиксирует уведомления и события отклоненных вызовов.
type mockNotifier struct {
	mu            sync.Mutex
	notifications []call.Notification
	rejected      int
}

func (n *mockNotifier) Notify(notification call.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *mockNotifier) CallRejected(_ *call.Call) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected++
}

func (n *mockNotifier) rejectedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rejected
}

func (n *mockNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notifications))
	for _, notification := range n.notifications {
		out = append(out, notification.Message)
	}
	return out
}

// mockTone считает запуски и остановки сигнала.
type mockTone struct {
	mu    sync.Mutex
	plays int
	stops int
}

func (t *mockTone) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plays++
}

func (t *mockTone) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

func (t *mockTone) playCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plays
}

// mockTelemetry фиксирует события телеметрии.
type mockTelemetry struct {
	mu     sync.Mutex
	events []string
}

func (t *mockTelemetry) Event(category, action, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, category+"/"+action+"/"+label)
}

// mockSinkAcquirer возвращает подготовленные точки воспроизведения или
// ошибку.
type mockSinkAcquirer struct {
	sinks *call.Sinks
	err   error
}

func (a *mockSinkAcquirer) AcquireSinks(ctx context.Context) (*call.Sinks, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.sinks != nil {
		return a.sinks, nil
	}
	return &call.Sinks{}, nil
}

// mockStreamSink запоминает опубликованные контейнеры.
type mockStreamSink struct {
	mu      sync.Mutex
	streams []*call.MediaStream
}

func (s *mockStreamSink) SetStream(stream *call.MediaStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append(s.streams, stream)
}

func (s *mockStreamSink) last() *call.MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return nil
	}
	return s.streams[len(s.streams)-1]
}
