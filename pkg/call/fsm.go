package call

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"
)

// Имена событий FSM. Событие FSM - это уже классифицированный результат
// протокольного события или локальной команды; классификация выполняется
// в редьюсере Apply и в Terminate.
const (
	fsmEventDial              = "dial"
	fsmEventAccept            = "accept"
	fsmEventBye               = "bye"
	fsmEventAnsweredElsewhere = "answered_elsewhere"
	fsmEventRequestTerminated = "request_terminated"
	fsmEventCalleeUnavailable = "callee_unavailable"
	fsmEventCalleeBusy        = "callee_busy"
)

// newStatusFSM строит конечный автомат статусов вызова.
//
// Терминальные статусы не входят ни в один Src, поэтому любое событие
// после достижения терминального статуса возвращает InvalidEventError -
// это и обеспечивает инвариант финальности.
func newStatusFSM(initial Status) *fsm.FSM {
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			// Исходящий вызов: набор номера переводит new -> create
			{Name: fsmEventDial, Src: []string{string(StatusNew)}, Dst: string(StatusCreate)},
			// Принятие вызова: входящий из invite, исходящий из create
			{Name: fsmEventAccept, Src: []string{string(StatusInvite), string(StatusCreate)}, Dst: string(StatusAccepted)},
			// Завершение разговора удаленной или локальной стороной
			{Name: fsmEventBye, Src: []string{string(StatusInvite), string(StatusCreate), string(StatusAccepted)}, Dst: string(StatusBye)},
			// Входящий вызов принят на другом устройстве
			{Name: fsmEventAnsweredElsewhere, Src: []string{string(StatusInvite)}, Dst: string(StatusAnsweredElsewhere)},
			// Прерывание вызова: CANCEL, 480/487 или локальный Terminate
			{Name: fsmEventRequestTerminated, Src: []string{string(StatusNew), string(StatusCreate), string(StatusInvite), string(StatusAccepted)}, Dst: string(StatusRequestTerminated)},
			// Отказы исходящего вызова по коду ответа
			{Name: fsmEventCalleeUnavailable, Src: []string{string(StatusCreate), string(StatusAccepted)}, Dst: string(StatusCalleeUnavailable)},
			{Name: fsmEventCalleeBusy, Src: []string{string(StatusCreate), string(StatusAccepted)}, Dst: string(StatusCalleeBusy)},
		},
		fsm.Callbacks{},
	)
}

// transition выполняет переход FSM. Невалидный переход не является
// ошибкой вызова: дубликаты и опоздавшие уведомления ожидаемы, поэтому
// они логируются на уровне Debug и отбрасываются.
//
// Вызывается только под c.mu.
func (c *Call) transition(event string) bool {
	from := c.fsm.Current()
	err := c.fsm.Event(context.Background(), event)
	if err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) || errors.As(err, &fsm.NoTransitionError{}) {
			c.logger.Debug("переход статуса отклонен",
				slog.String("callID", c.callID),
				slog.String("status", from),
				slog.String("event", event))
			return false
		}
		c.logger.Warn("ошибка FSM при переходе статуса",
			slog.String("callID", c.callID),
			slog.String("status", from),
			slog.String("event", event),
			slog.Any("error", err))
		return false
	}

	to := c.fsm.Current()
	c.logger.Debug("переход статуса",
		slog.String("callID", c.callID),
		slog.String("from", from),
		slog.String("to", to))
	c.metrics.StatusTransition(from, to)
	return true
}
