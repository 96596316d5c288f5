package call_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arzzra/webcall/pkg/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	manager   *call.Manager
	notifier  *mockNotifier
	ringback  *mockTone
	busy      *mockTone
	telemetry *mockTelemetry
	transport *mockTransport
}

func newTestEnv() *testEnv {
	env := &testEnv{
		notifier:  &mockNotifier{},
		ringback:  &mockTone{},
		busy:      &mockTone{},
		telemetry: &mockTelemetry{},
		transport: &mockTransport{},
	}
	env.manager = call.NewManager(&call.Config{
		Transport:    env.transport,
		RingbackTone: env.ringback,
		BusyTone:     env.busy,
		Notifier:     env.notifier,
		Telemetry:    env.telemetry,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return env
}

// startIncoming создает и запускает входящий вызов в тихом режиме.
func (env *testEnv) startIncoming(t *testing.T, session *mockSession) *call.Call {
	t.Helper()
	c := env.manager.OnIncomingSession(session, call.Options{Silent: true})
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, call.StatusInvite, c.Status())
	return c
}

// startOutgoing создает и запускает исходящий вызов в тихом режиме.
func (env *testEnv) startOutgoing(t *testing.T, number string, session *mockSession) *call.Call {
	t.Helper()
	env.transport.session = session
	c := env.manager.NewOutgoingCall(number, call.Options{Silent: true})
	require.Equal(t, call.StatusNew, c.Status())
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, call.StatusCreate, c.Status())
	return c
}

func TestIncomingIdentityFromRemoteParty(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-1")
	session.displayName = "uri display"
	session.user = "200"
	session.headers["Remote-Party-Id"] = `"Jane Doe" <sip:12345@example.com>`

	c := env.startIncoming(t, session)

	assert.Equal(t, "Jane Doe", c.DisplayName(), "Remote-Party-Id важнее URI")
	assert.Equal(t, "12345", c.Number())
	assert.Equal(t, "cid-1", c.CallID())
}

func TestIncomingIdentityFromURI(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-2")
	session.displayName = "Bob"
	session.user = "200"

	c := env.startIncoming(t, session)

	assert.Equal(t, "Bob", c.DisplayName())
	assert.Equal(t, "200", c.Number())
}

func TestIncomingAccepted(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-3")
	c := env.startIncoming(t, session)

	session.Emit(call.Event{Kind: call.EventProgress, StatusCode: 180})
	session.Emit(call.Event{Kind: call.EventAccepted})

	assert.Equal(t, call.StatusAccepted, c.Status())
	assert.Contains(t, env.telemetry.events, "call[sip]/incoming/accepted")
	// КПВ остановлен эффектом принятия
	assert.NotZero(t, env.ringback.stops)
}

func TestTerminalStatusIsFinal(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-4")
	c := env.startIncoming(t, session)

	session.Emit(call.Event{Kind: call.EventBye})
	require.Equal(t, call.StatusBye, c.Status())

	// Опоздавшие и повторные уведомления не меняют терминальный статус
	session.Emit(call.Event{Kind: call.EventAccepted})
	session.Emit(call.Event{Kind: call.EventFailed, StatusCode: 486})
	session.Emit(call.Event{Kind: call.EventBye})

	assert.Equal(t, call.StatusBye, c.Status())
}

func TestIncomingAnsweredElsewhere(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-5")
	c := env.startIncoming(t, session)

	session.Emit(call.Event{
		Kind:    call.EventFailed,
		Headers: map[string]string{"Reason": `SIP;cause=200;text="Call completed elsewhere"`},
	})

	assert.Equal(t, call.StatusAnsweredElsewhere, c.Status())
	assert.Zero(t, env.notifier.rejectedCount(), "принятый на другом устройстве вызов не считается пропущенным")
	assert.Contains(t, env.telemetry.events, "call[sip]/incoming/answered_elsewhere")
}

func TestIncomingRejectedMissedCallOnce(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-6")
	c := env.startIncoming(t, session)

	session.Emit(call.Event{Kind: call.EventFailed, Method: "CANCEL"})
	require.Equal(t, call.StatusRequestTerminated, c.Status())

	// Дубликат не дает второго уведомления о пропущенном вызове
	session.Emit(call.Event{Kind: call.EventFailed, Method: "CANCEL"})

	assert.Equal(t, 1, env.notifier.rejectedCount())
}

func TestIncomingRejectedBy480(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-7")
	c := env.startIncoming(t, session)

	session.Emit(call.Event{Kind: call.EventFailed, StatusCode: 480})

	assert.Equal(t, call.StatusRequestTerminated, c.Status())
	assert.Equal(t, 1, env.notifier.rejectedCount())
}

func TestOutgoingFailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       call.Status
	}{
		{"480 недоступен", 480, call.StatusCalleeUnavailable},
		{"486 занят", 486, call.StatusCalleeBusy},
		{"487 прерван", 487, call.StatusRequestTerminated},
		{"неизвестный код", 603, call.StatusRequestTerminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			session := newMockSession("cid-out")
			c := env.startOutgoing(t, "100", session)

			session.Emit(call.Event{Kind: call.EventFailed, StatusCode: tt.statusCode})

			assert.Equal(t, tt.want, c.Status())
			assert.NotZero(t, env.busy.playCount(), "сигнал занятости проигран")
		})
	}
}

func TestOutgoingAcceptedAndBye(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-8")
	c := env.startOutgoing(t, "100", session)

	assert.Equal(t, "100", env.transport.lastDial)
	assert.Equal(t, "cid-8", c.CallID())

	session.Emit(call.Event{Kind: call.EventAccepted})
	require.Equal(t, call.StatusAccepted, c.Status())

	session.Emit(call.Event{Kind: call.EventBye})
	assert.Equal(t, call.StatusBye, c.Status())
	assert.Zero(t, env.manager.Count(), "вызов удален из реестра после остановки")
}

func TestOutgoingReferTerminatesSession(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-9")
	env.startOutgoing(t, "100", session)

	session.Emit(call.Event{Kind: call.EventRefer})

	assert.Equal(t, 1, session.byeCalls)
}

func TestReinviteUpdatesIdentity(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-10")
	session.user = "200"
	c := env.startIncoming(t, session)
	session.Emit(call.Event{Kind: call.EventAccepted})

	session.Emit(call.Event{
		Kind:    call.EventReinvite,
		Headers: map[string]string{"Remote-Party-Id": `"After Transfer" <sip:555@example.com>`},
	})

	assert.Equal(t, "After Transfer", c.DisplayName())
	assert.Equal(t, "555", c.Number())
	assert.Equal(t, call.StatusAccepted, c.Status(), "reinvite не меняет статус")
}

func TestTerminateNewCallRemovesSilently(t *testing.T) {
	env := newTestEnv()
	c := env.manager.NewOutgoingCall("100", call.Options{Silent: true})
	require.Equal(t, 1, env.manager.Count())

	c.Terminate(context.Background())

	assert.Zero(t, env.manager.Count())
	assert.Equal(t, call.StatusNew, c.Status(), "статус не меняется")
	assert.Empty(t, env.notifier.messages(), "уведомления не отправляются")
}

func TestTerminateCreate(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-11")
	c := env.startOutgoing(t, "100", session)

	c.Terminate(context.Background())

	assert.Equal(t, call.StatusRequestTerminated, c.Status())
	assert.Equal(t, 1, session.terminateCalls)
	assert.Zero(t, env.manager.Count())
}

func TestTerminateInviteRejects(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-12")
	c := env.startIncoming(t, session)

	c.Terminate(context.Background())

	assert.Equal(t, call.StatusRequestTerminated, c.Status())
	assert.Equal(t, 1, session.rejectCalls)
	assert.Zero(t, env.manager.Count())
}

func TestTerminateAcceptedSendsBye(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-13")
	c := env.startIncoming(t, session)
	session.Emit(call.Event{Kind: call.EventAccepted})

	c.Terminate(context.Background())

	assert.Equal(t, call.StatusBye, c.Status())
	assert.Equal(t, 1, session.byeCalls)
}

func TestDoubleTerminateSingleStop(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-14")
	c := env.startIncoming(t, session)
	session.Emit(call.Event{Kind: call.EventAccepted})

	c.Terminate(context.Background())
	messagesAfterFirst := len(env.notifier.messages())
	c.Terminate(context.Background())

	assert.Equal(t, messagesAfterFirst, len(env.notifier.messages()), "повторный Terminate не дает эффектов")
	assert.Equal(t, 1, session.byeCalls)
}

func TestTerminateTransportErrorStillStops(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-15")
	session.commandErr = errors.New("session already dead")
	c := env.startIncoming(t, session)

	c.Terminate(context.Background())

	assert.True(t, c.Status().Terminal(), "вызов остановлен несмотря на ошибку транспорта")
	assert.Zero(t, env.manager.Count())
}

func TestAcceptOnlyFromInvite(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-16")
	c := env.startIncoming(t, session)

	require.NoError(t, c.Accept(context.Background()))
	assert.Equal(t, 1, session.acceptCalls)

	session.Emit(call.Event{Kind: call.EventAccepted})
	err := c.Accept(context.Background())
	require.Error(t, err)
	assert.True(t, call.HasErrorCode(err, call.ErrorCodeInvalidStatus))
}

func TestHoldOptimistic(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-17")
	c := env.startIncoming(t, session)
	session.Emit(call.Event{Kind: call.EventAccepted})

	require.NoError(t, c.Hold(context.Background()))
	assert.True(t, c.HoldActive(), "флаг выставлен до подтверждения транспорта")
	assert.Equal(t, 1, session.holdCalls)

	require.NoError(t, c.Unhold(context.Background()))
	assert.False(t, c.HoldActive())
	assert.Equal(t, 1, session.unholdCalls)
}

func TestHoldWithoutSessionIsNoop(t *testing.T) {
	env := newTestEnv()
	c := env.manager.NewOutgoingCall("100", call.Options{Silent: true})

	require.NoError(t, c.Hold(context.Background()))
	assert.False(t, c.HoldActive())
}

func TestTransfer(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-18")
	c := env.startIncoming(t, session)
	session.Emit(call.Event{Kind: call.EventAccepted})

	require.NoError(t, c.Transfer(context.Background(), "300"))
	assert.Equal(t, []string{"300"}, session.referTargets)
}

func TestTransferToCall(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-21")
	c := env.startIncoming(t, session)
	session.Emit(call.Event{Kind: call.EventAccepted})

	otherSession := newMockSession("cid-22")
	other := env.startIncoming(t, otherSession)
	otherSession.Emit(call.Event{Kind: call.EventAccepted})

	require.NoError(t, c.TransferToCall(context.Background(), other))
	assert.Equal(t, 1, session.referCalls)
}

func TestMutualTransferDoesNotDeadlock(t *testing.T) {
	env := newTestEnv()
	sessionA := newMockSession("cid-23")
	a := env.startIncoming(t, sessionA)
	sessionA.Emit(call.Event{Kind: call.EventAccepted})

	sessionB := newMockSession("cid-24")
	b := env.startIncoming(t, sessionB)
	sessionB.Emit(call.Event{Kind: call.EventAccepted})

	done := make(chan struct{}, 2)
	go func() {
		a.TransferToCall(context.Background(), b)
		done <- struct{}{}
	}()
	go func() {
		b.TransferToCall(context.Background(), a)
		done <- struct{}{}
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("взаимный перевод заблокировался")
		}
	}
}

func TestTrackAddedRebuildsContainers(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-19")
	c := env.startIncoming(t, session)
	session.Emit(call.Event{Kind: call.EventAccepted})

	first := call.Track{ID: "recv-1", Kind: call.TrackKindAudio, SSRC: 1111}
	session.pc.setTracks([]call.Track{first}, []call.Track{{ID: "send-1", Kind: call.TrackKindAudio, SSRC: 2222}})
	session.Emit(call.Event{Kind: call.EventTrackAdded})

	_, remote := c.Streams()
	require.NotNil(t, remote)
	require.Len(t, remote.Tracks(), 1)
	firstID := remote.ID()

	// Пересогласование: снимок соединения сменился полностью
	second := call.Track{ID: "recv-2", Kind: call.TrackKindAudio, SSRC: 3333}
	session.pc.setTracks([]call.Track{second}, nil)
	session.Emit(call.Event{Kind: call.EventTrackAdded})

	local, remote := c.Streams()
	require.NotNil(t, remote)
	assert.NotEqual(t, firstID, remote.ID(), "контейнер построен заново")
	require.Len(t, remote.Tracks(), 1)
	assert.Equal(t, "recv-2", remote.Tracks()[0].ID, "дорожки первого снимка не протекли")
	assert.Empty(t, local.Tracks())
}

func TestSinkAcquisitionFailureTerminates(t *testing.T) {
	env := newTestEnv()
	acquirer := &mockSinkAcquirer{err: errors.New("permission denied")}
	manager := call.NewManager(&call.Config{
		Transport: env.transport,
		Sinks:     acquirer,
		Notifier:  env.notifier,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	c := manager.NewOutgoingCall("100", call.Options{})
	err := c.Start(context.Background())

	require.Error(t, err)
	assert.True(t, call.HasErrorCode(err, call.ErrorCodeSinkAcquisition))
	assert.Equal(t, call.StatusRequestTerminated, c.Status(), "вызов не остается в предустановочном статусе")
	assert.Zero(t, manager.Count())
}

func TestIncomingSinkFailureRejectsSession(t *testing.T) {
	env := newTestEnv()
	acquirer := &mockSinkAcquirer{err: errors.New("permission denied")}
	manager := call.NewManager(&call.Config{
		Transport: env.transport,
		Sinks:     acquirer,
		Notifier:  env.notifier,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	session := newMockSession("cid-30")
	c := manager.OnIncomingSession(session, call.Options{})
	err := c.Start(context.Background())

	require.Error(t, err)
	assert.True(t, call.HasErrorCode(err, call.ErrorCodeSinkAcquisition))
	assert.Equal(t, call.StatusRequestTerminated, c.Status())
	assert.Zero(t, manager.Count())
	// Удаленная сторона не должна продолжать звонить
	assert.Equal(t, 1, session.terminateCalls, "сеанс завершается явно")
}

func TestOutgoingInviteFailureTerminates(t *testing.T) {
	env := newTestEnv()
	env.transport.err = errors.New("transport down")
	c := env.manager.NewOutgoingCall("100", call.Options{Silent: true})

	err := c.Start(context.Background())

	require.Error(t, err)
	assert.True(t, call.HasErrorCode(err, call.ErrorCodeDialFailed))
	assert.Equal(t, call.StatusRequestTerminated, c.Status())
}

func TestByeWithHangupCauseWarns(t *testing.T) {
	env := newTestEnv()
	session := newMockSession("cid-20")
	c := env.startIncoming(t, session)
	session.Emit(call.Event{Kind: call.EventAccepted})

	session.Emit(call.Event{
		Kind:    call.EventBye,
		Headers: map[string]string{"X-Asterisk-Hangupcausecode": "58"},
	})

	assert.Equal(t, call.StatusBye, c.Status())
	assert.Contains(t, env.notifier.messages(), "your VoIP account misses AVPF and encryption support.")
}
