package call

import (
	"context"
	"log/slog"
)

// EventKind - тип события сеанса сигнализации.
type EventKind int

const (
	// EventAccepted - удаленная сторона приняла вызов
	EventAccepted EventKind = iota
	// EventBye - удаленная сторона завершила разговор
	EventBye
	// EventFailed - вызов отклонен или завершился неудачей
	EventFailed
	// EventProgress - предварительный ответ (1xx)
	EventProgress
	// EventRefer - удаленная сторона инициировала слепой перевод
	EventRefer
	// EventReinvite - повторное приглашение в рамках сеанса
	EventReinvite
	// EventTrackAdded - медиа-дорожки доступны после согласования
	EventTrackAdded
)

func (k EventKind) String() string {
	switch k {
	case EventAccepted:
		return "accepted"
	case EventBye:
		return "bye"
	case EventFailed:
		return "failed"
	case EventProgress:
		return "progress"
	case EventRefer:
		return "refer"
	case EventReinvite:
		return "reinvite"
	case EventTrackAdded:
		return "trackAdded"
	default:
		return "unknown"
	}
}

// Event - типизированное событие сеанса. Транспорт заполняет поля,
// которые имеют смысл для конкретного вида события; остальные остаются
// нулевыми.
type Event struct {
	Kind       EventKind
	StatusCode int
	Method     string
	// Headers содержит заголовки сообщения, вызвавшего событие
	Headers map[string]string
}

// Header возвращает значение заголовка события или пустую строку.
func (e Event) Header(name string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[name]
}

// Коды предварительных ответов, на которых проигрывается КПВ.
var ringbackStatusCodes = map[int]bool{180: true, 181: true, 182: true, 183: true}

// Причина отказа, исключающая уведомление о пропущенном вызове.
const reasonCompletedElsewhere = "Call completed elsewhere"

// Вендорный заголовок причины завершения и код отсутствия AVPF/шифрования.
const (
	hangupCauseHeader       = "X-Asterisk-Hangupcausecode"
	hangupCauseNoEncryption = "58"
)

// dispatch - точка входа событий сеанса. Паника внутри обработчика не
// должна достигать диспетчера транспорта и дестабилизировать остальные
// вызовы: она перехватывается, логируется, и вызов принудительно
// останавливается.
func (c *Call) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("паника в обработчике события сеанса",
				slog.String("callID", c.callID),
				slog.String("event", ev.Kind.String()),
				slog.Any("panic", r))
			c.mu.Lock()
			c.forceStop()
			c.mu.Unlock()
		}
	}()
	c.Apply(ev)
}

// Apply - редьюсер вызова: единственное место, где протокольные события
// мутируют статус. События с неопределенным переходом для текущего
// статуса отбрасываются с debug-логом.
func (c *Call) Apply(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case EventAccepted:
		c.applyAccepted()
	case EventBye:
		c.applyBye(ev)
	case EventFailed:
		c.applyFailed(ev)
	case EventProgress:
		if ringbackStatusCodes[ev.StatusCode] {
			c.ringbackTone.Play()
		}
	case EventRefer:
		c.applyRefer()
	case EventReinvite:
		c.applyReinvite(ev)
	case EventTrackAdded:
		c.applyTrackAdded()
	default:
		c.logger.Debug("неизвестное событие сеанса отброшено",
			slog.String("callID", c.callID),
			slog.Int("kind", int(ev.Kind)))
	}
}

func (c *Call) applyAccepted() {
	if !c.transition(fsmEventAccept) {
		return
	}
	c.telemetry.Event(telemetryCategory, c.direction.String(), "accepted")
	c.startEffects()
}

func (c *Call) applyBye(ev Event) {
	c.busyTone.Play()

	// Вендорная диагностика завершения: учетная запись без поддержки
	// AVPF и шифрования.
	if ev.Header(hangupCauseHeader) == hangupCauseNoEncryption {
		c.notifier.Notify(Notification{
			Icon:    "warning",
			Message: c.catalog.Get("warning.no_avpf"),
			Type:    "warning",
		})
	}

	if !c.transition(fsmEventBye) {
		return
	}
	c.stopEffects(c.catalog.StatusMessage(c.status(), c.direction))
}

func (c *Call) applyFailed(ev Event) {
	if c.direction == DirectionIncoming {
		c.applyIncomingFailed(ev)
	} else {
		c.applyOutgoingFailed(ev)
	}
}

// applyIncomingFailed классифицирует отказ входящего вызова.
//
// failed приходит и при отклонении вызова, и при истечении времени
// звонка, и когда вызов принят на другом устройстве. Последний случай
// распознается по text-параметру заголовка Reason и не считается
// пропущенным вызовом.
func (c *Call) applyIncomingFailed(ev Event) {
	var reason string
	if raw := ev.Header("Reason"); raw != "" {
		reason, _ = ParseSemicolonHeader(raw).Get("text")
	}

	if reason == reasonCompletedElsewhere {
		c.logger.Info("вызов принят на другом устройстве",
			slog.String("callID", c.callID))
		c.telemetry.Event(telemetryCategory, "incoming", "answered_elsewhere")
		c.transition(fsmEventAnsweredElsewhere)
	} else {
		c.logger.Info("входящий вызов отклонен",
			slog.String("callID", c.callID),
			slog.String("method", ev.Method),
			slog.Int("statusCode", ev.StatusCode))
		c.notifyRejected()
		c.telemetry.Event(telemetryCategory, "incoming", "rejected")
		if ev.Method != "CANCEL" && ev.StatusCode != 480 {
			c.logger.Warn("неклассифицированный отказ входящего вызова",
				slog.String("callID", c.callID),
				slog.Int("statusCode", ev.StatusCode))
		}
		c.transition(fsmEventRequestTerminated)
	}

	c.stopEffects(c.catalog.StatusMessage(c.status(), c.direction))
}

// applyOutgoingFailed классифицирует отказ исходящего вызова по коду
// ответа.
func (c *Call) applyOutgoingFailed(ev Event) {
	c.logger.Info("исходящий вызов отклонен",
		slog.String("callID", c.callID),
		slog.Int("statusCode", ev.StatusCode))
	c.busyTone.Play()

	switch ev.StatusCode {
	case 480:
		// Temporarily Unavailable
		c.transition(fsmEventCalleeUnavailable)
	case 486:
		// Busy Here
		c.transition(fsmEventCalleeBusy)
	case 487:
		// Request Terminated
		c.transition(fsmEventRequestTerminated)
	default:
		c.logger.Warn("необработанный код ответа",
			slog.String("callID", c.callID),
			slog.Int("statusCode", ev.StatusCode))
		c.transition(fsmEventRequestTerminated)
	}

	c.notifyRejected()
	c.telemetry.Event(telemetryCategory, "outgoing", "rejected")
	c.stopEffects(c.catalog.StatusMessage(c.status(), c.direction))
}

// applyRefer обрабатывает слепой перевод, инициированный удаленной
// стороной: локальный сеанс завершается, вызов к цели перевода создает
// транспорт.
func (c *Call) applyRefer() {
	if c.session == nil {
		return
	}
	if err := c.session.Bye(context.Background()); err != nil {
		c.logger.Warn("не удалось завершить сеанс после refer",
			slog.String("callID", c.callID),
			slog.Any("error", err))
	}
}

// applyReinvite обновляет идентификацию звонящего в середине вызова,
// если повторное приглашение несет заголовок Remote-Party-Id (например,
// после перевода на другого абонента). Статус не меняется.
func (c *Call) applyReinvite(ev Event) {
	rpid := ev.Header("Remote-Party-Id")
	if rpid == "" {
		return
	}
	party := parseRemoteParty(rpid, c.logger)
	c.displayName = party.DisplayName
	c.number = party.Number
}

// applyTrackAdded перестраивает контейнеры дорожек из текущего снимка
// медиа-соединения. Безопасно при повторном срабатывании (hold/unhold
// вызывает пересогласование).
func (c *Call) applyTrackAdded() {
	if c.session == nil {
		return
	}
	pc := c.session.PeerConnection()
	if pc == nil {
		return
	}
	c.localStream, c.remoteStream = c.binder.Bind(pc)
}

// notifyRejected уведомляет приложение об отклоненном вызове ровно один
// раз за время жизни экземпляра.
func (c *Call) notifyRejected() {
	if c.rejectedNotified {
		return
	}
	c.rejectedNotified = true
	c.metrics.MissedCall(c.direction)
	c.notifier.CallRejected(c)
}
