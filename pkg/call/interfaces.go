package call

import (
	"context"
)

// Session - транспортный сеанс сигнализации, которым владеет транспорт,
// а не вызов. Call только подписывается на события сеанса и отдает ему
// команды; время жизни сеанса вызов не контролирует.
//
// Реализация выбирается при создании вызова, что позволяет подменять
// сигнальный транспорт (SIP, тестовый мок) без изменения ядра.
type Session interface {
	// CallID возвращает протокольный идентификатор корреляции
	CallID() string
	// RemoteDisplayName возвращает отображаемое имя удаленной стороны
	RemoteDisplayName() string
	// RemoteUser возвращает user-часть URI удаленной стороны
	RemoteUser() string
	// RemoteHeader возвращает значение заголовка исходного приглашения
	// или пустую строку, если заголовок отсутствует
	RemoteHeader(name string) string

	// Subscribe регистрирует единственного получателя событий сеанса.
	// События доставляются в порядке получения транспортом.
	Subscribe(func(Event))

	// Команды сеанса
	Accept(ctx context.Context, constraints MediaConstraints) error
	Reject(ctx context.Context) error
	Bye(ctx context.Context) error
	Hold(ctx context.Context, constraints MediaConstraints) error
	Unhold(ctx context.Context, constraints MediaConstraints) error
	Refer(ctx context.Context, target string) error
	ReferReplace(ctx context.Context, other Session) error
	Terminate(ctx context.Context) error

	// PeerConnection возвращает снимок активного медиа-соединения
	PeerConnection() PeerConnection
}

// Transport создает исходящие сеансы. Входящие сеансы транспорт
// доставляет менеджеру через его callback.
type Transport interface {
	Invite(ctx context.Context, target string, constraints MediaConstraints) (Session, error)
}

// MediaConstraints - флаги выбора устройств захвата, передаваемые
// транспорту при invite/accept/hold/unhold.
type MediaConstraints struct {
	Audio            bool
	Video            bool
	InputDeviceID    string
	EchoCancellation bool
}

// ConstraintsProvider возвращает текущие ограничения захвата. Источник -
// настройки устройств, поэтому значение запрашивается на каждую команду,
// а не кэшируется в вызове.
type ConstraintsProvider interface {
	UserMediaConstraints() MediaConstraints
}

// SinkAcquirer подготавливает локальные медиа-ресурсы (разрешение на
// захват, выходные устройства). Операция может зависнуть на запросе
// разрешения, поэтому принимает контекст с таймаутом.
type SinkAcquirer interface {
	AcquireSinks(ctx context.Context) (*Sinks, error)
}

// StreamSink - точка воспроизведения, в которую публикуется контейнер
// дорожек. Процессный синглтон: одновременно им владеет один вызов.
type StreamSink interface {
	SetStream(*MediaStream)
}

// Sinks - пара точек воспроизведения для локального и удаленного потока.
type Sinks struct {
	Local  StreamSink
	Remote StreamSink
}

// TonePlayer проигрывает служебный сигнал (КПВ, занято). Play и Stop
// идемпотентны.
type TonePlayer interface {
	Play()
	Stop()
}

// Notification - пользовательское уведомление. Доставка не влияет на
// состояние вызова.
type Notification struct {
	Icon    string
	Message string
	Type    string
}

// Notifier доставляет уведомления приложению. Все методы fire-and-forget:
// сбой уведомления никогда не затрагивает вызов.
type Notifier interface {
	Notify(n Notification)
	// CallRejected сигнализирует об отклоненном вызове (пропущенный
	// вызов для входящих). Для статуса answered_elsewhere не вызывается.
	CallRejected(c *Call)
}

// Telemetry отправляет событие телеметрии. Fire-and-forget.
type Telemetry interface {
	Event(category, action, label string)
}

// Registry - граница менеджера жизненного цикла: вызов просит удалить
// себя из реестра после остановки.
type Registry interface {
	DeleteCall(c *Call)
}
