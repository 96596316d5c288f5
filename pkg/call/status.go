package call

// Direction определяет направление вызова. Фиксируется при создании
// экземпляра Call и не меняется.
type Direction int

const (
	// DirectionIncoming - входящий вызов, создан из входящего приглашения
	DirectionIncoming Direction = iota
	// DirectionOutgoing - исходящий вызов, создан локальным набором номера
	DirectionOutgoing
)

func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

// Status представляет статус вызова. Значения совпадают с именами
// состояний FSM (looplab/fsm работает со строками).
type Status string

const (
	// StatusNew - исходящий вызов до набора номера. Единственный статус,
	// из которого Terminate удаляет вызов из реестра без уведомлений.
	StatusNew Status = "new"
	// StatusCreate - исходящий вызов в процессе установки (INVITE отправлен)
	StatusCreate Status = "create"
	// StatusInvite - входящий вызов, ожидающий ответа локальной стороны
	StatusInvite Status = "invite"
	// StatusAccepted - вызов принят, разговор идет
	StatusAccepted Status = "accepted"
	// StatusBye - удаленная или локальная сторона завершила разговор
	StatusBye Status = "bye"
	// StatusRequestTerminated - вызов прерван до установления разговора
	StatusRequestTerminated Status = "request_terminated"
	// StatusAnsweredElsewhere - входящий вызов принят на другом устройстве
	StatusAnsweredElsewhere Status = "answered_elsewhere"
	// StatusCalleeUnavailable - вызываемый абонент недоступен (480)
	StatusCalleeUnavailable Status = "callee_unavailable"
	// StatusCalleeBusy - вызываемый абонент занят (486)
	StatusCalleeBusy Status = "callee_busy"
)

// Terminal сообщает, является ли статус терминальным. Из терминального
// статуса никакие переходы не допускаются.
func (s Status) Terminal() bool {
	switch s {
	case StatusBye, StatusRequestTerminated, StatusAnsweredElsewhere,
		StatusCalleeUnavailable, StatusCalleeBusy:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
