package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lfsm "github.com/looplab/fsm"
)

// Категория телеметрии событий жизненного цикла вызова.
const telemetryCategory = "call[sip]"

// DefaultSinkTimeout ограничивает ожидание медиа-ресурсов в Start.
// Зависший запрос разрешения не должен оставлять вызов навсегда в
// предустановочном статусе.
const DefaultSinkTimeout = 30 * time.Second

// Config - зависимости вызова. Один экземпляр Config разделяется всеми
// вызовами менеджера.
type Config struct {
	// Transport создает исходящие сеансы
	Transport Transport
	// Constraints возвращает текущие ограничения захвата
	Constraints ConstraintsProvider
	// Sinks подготавливает медиа-ресурсы для не-тихих вызовов
	Sinks SinkAcquirer
	// SinkTimeout - предел ожидания Sinks.AcquireSinks
	SinkTimeout time.Duration
	// RingbackTone - КПВ, проигрывается на предварительных ответах
	RingbackTone TonePlayer
	// BusyTone - сигнал занятости, проигрывается при завершении
	BusyTone TonePlayer
	// Notifier доставляет пользовательские уведомления
	Notifier Notifier
	// Telemetry отправляет события телеметрии
	Telemetry Telemetry
	// Metrics - метрики ядра; nil отключает сбор
	Metrics *Metrics
	// Catalog - каталог локализованных сообщений
	Catalog *Catalog
	// Logger - структурированный логгер
	Logger *slog.Logger
}

// normalized возвращает копию конфигурации с заполненными значениями по
// умолчанию, чтобы вызову не приходилось проверять зависимости на nil.
func (cfg *Config) normalized() *Config {
	out := *cfg
	if out.Constraints == nil {
		out.Constraints = defaultConstraints{}
	}
	if out.SinkTimeout <= 0 {
		out.SinkTimeout = DefaultSinkTimeout
	}
	if out.RingbackTone == nil {
		out.RingbackTone = noopTone{}
	}
	if out.BusyTone == nil {
		out.BusyTone = noopTone{}
	}
	if out.Notifier == nil {
		out.Notifier = noopNotifier{}
	}
	if out.Telemetry == nil {
		out.Telemetry = noopTelemetry{}
	}
	if out.Catalog == nil {
		out.Catalog = NewCatalog("en")
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// Options - опции создания вызова.
type Options struct {
	// Active активирует вызов в интерфейсе
	Active bool
	// Silent устанавливает вызов без подготовки медиа-ресурсов
	// (фоновые и автотестовые сценарии)
	Silent bool
}

// Call - конечный автомат одного вызова. Все поля мутируются только под
// mu; события сеанса и локальные команды сериализуются этим мьютексом.
//
// Контракт доставки событий: Session обязан доставлять события
// асинхронно относительно команд (не из стека вызова команды), иначе
// редьюсер взаимно заблокируется с командой.
type Call struct {
	id        string
	direction Direction
	createdAt time.Time
	silent    bool
	active    bool

	number      string
	displayName string
	// callID - протокольный идентификатор корреляции, назначается
	// не более одного раза
	callID string

	holdActive bool

	// session не принадлежит вызову; после привязки никогда не
	// заменяется другим сеансом
	session   Session
	transport Transport

	fsm    *lfsm.FSM
	binder *MediaBinder

	localStream  *MediaStream
	remoteStream *MediaStream

	registry Registry

	constraints  ConstraintsProvider
	sinkAcquirer SinkAcquirer
	sinkTimeout  time.Duration
	ringbackTone TonePlayer
	busyTone     TonePlayer
	notifier     Notifier
	telemetry    Telemetry
	metrics      *Metrics
	catalog      *Catalog
	logger       *slog.Logger

	// Идемпотентность побочных эффектов
	started          bool
	stopped          bool
	rejectedNotified bool

	mu sync.Mutex
}

func newCall(cfg *Config, registry Registry, direction Direction, initial Status, opts Options) *Call {
	cfg = cfg.normalized()
	c := &Call{
		id:           uuid.NewString(),
		direction:    direction,
		createdAt:    time.Now(),
		silent:       opts.Silent,
		active:       opts.Active,
		number:       UnknownNumber,
		transport:    cfg.Transport,
		registry:     registry,
		constraints:  cfg.Constraints,
		sinkAcquirer: cfg.Sinks,
		sinkTimeout:  cfg.SinkTimeout,
		ringbackTone: cfg.RingbackTone,
		busyTone:     cfg.BusyTone,
		notifier:     cfg.Notifier,
		telemetry:    cfg.Telemetry,
		metrics:      cfg.Metrics,
		catalog:      cfg.Catalog,
		logger:       cfg.Logger,
	}
	c.fsm = newStatusFSM(initial)
	c.binder = NewMediaBinder(nil, cfg.Logger)
	c.metrics.CallCreated(direction)
	return c
}

// NewOutgoing создает исходящий вызов в статусе new. Номер набирается
// при Start.
func NewOutgoing(cfg *Config, registry Registry, number string, opts Options) *Call {
	c := newCall(cfg, registry, DirectionOutgoing, StatusNew, opts)
	if number != "" {
		c.number = number
	}
	return c
}

// NewIncoming создает входящий вызов в статусе invite с уже привязанным
// сеансом транспорта.
func NewIncoming(cfg *Config, registry Registry, session Session, opts Options) *Call {
	c := newCall(cfg, registry, DirectionIncoming, StatusInvite, opts)
	c.session = session
	return c
}

// ID возвращает идентификатор экземпляра вызова.
func (c *Call) ID() string { return c.id }

// Direction возвращает направление вызова.
func (c *Call) Direction() Direction { return c.direction }

// Status возвращает текущий статус вызова.
func (c *Call) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status()
}

// Number возвращает номер удаленной стороны.
func (c *Call) Number() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.number
}

// DisplayName возвращает отображаемое имя удаленной стороны.
func (c *Call) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

// CallID возвращает протокольный идентификатор корреляции.
func (c *Call) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// HoldActive сообщает, стоит ли вызов на удержании.
func (c *Call) HoldActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdActive
}

// Streams возвращает текущие контейнеры дорожек (nil до согласования).
func (c *Call) Streams() (local, remote *MediaStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localStream, c.remoteStream
}

// CreatedAt возвращает время создания вызова.
func (c *Call) CreatedAt() time.Time { return c.createdAt }

// status возвращает статус без блокировки; вызывается под mu.
func (c *Call) status() Status {
	return Status(c.fsm.Current())
}

// Start запускает установку вызова: для не-тихого пути сначала
// подготавливает медиа-ресурсы, затем диспетчеризует во входящую или
// исходящую установку по текущему статусу.
//
// Сбой или таймаут подготовки ресурсов переводит вызов в
// request_terminated через обычный путь остановки: вызов не остается
// навсегда в предустановочном статусе.
func (c *Call) Start(ctx context.Context) error {
	if !c.silent && c.sinkAcquirer != nil {
		sinkCtx, cancel := context.WithTimeout(ctx, c.sinkTimeout)
		sinks, err := c.sinkAcquirer.AcquireSinks(sinkCtx)
		cancel()
		if err != nil {
			c.logger.Error("не удалось подготовить медиа-ресурсы",
				slog.String("id", c.id),
				slog.Any("error", err))
			c.mu.Lock()
			// Привязанный сеанс завершается явно, иначе удаленная
			// сторона продолжит звонить до собственного таймаута
			if c.session != nil {
				if terr := c.session.Terminate(ctx); terr != nil {
					c.logger.Warn("не удалось завершить сеанс",
						slog.String("callID", c.callID),
						slog.Any("error", terr))
				}
			}
			c.transition(fsmEventRequestTerminated)
			c.stopEffects("")
			c.mu.Unlock()
			return NewError(ErrorCodeSinkAcquisition, "подготовка медиа-ресурсов", err)
		}
		c.binder.SetSinks(sinks)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status() == StatusInvite {
		return c.setupIncoming()
	}
	return c.setupOutgoing(ctx)
}

// setupIncoming извлекает идентификацию звонящего и подписывается на
// события сеанса. Вызывается под mu.
func (c *Call) setupIncoming() error {
	if c.session == nil {
		return NewError(ErrorCodeNoSession, "входящий вызов без сеанса", nil)
	}

	c.displayName = c.session.RemoteDisplayName()

	// Remote-Party-Id имеет приоритет над user-частью URI
	if rpid := c.session.RemoteHeader("Remote-Party-Id"); rpid != "" {
		party := parseRemoteParty(rpid, c.logger)
		c.displayName = party.DisplayName
		c.number = party.Number
	} else if user := c.session.RemoteUser(); user != "" {
		c.number = user
	}

	c.setCallID(c.session.CallID())
	c.logger.Debug("входящий вызов запущен",
		slog.String("id", c.id),
		slog.String("callID", c.callID))

	c.session.Subscribe(c.dispatch)
	return nil
}

// setupOutgoing отправляет приглашение транспорту и привязывает
// созданный сеанс. Вызывается под mu.
func (c *Call) setupOutgoing(ctx context.Context) error {
	if !c.transition(fsmEventDial) {
		return NewError(ErrorCodeInvalidStatus, "исходящая установка из статуса "+c.fsm.Current(), nil)
	}
	if c.transport == nil {
		return NewError(ErrorCodeNoSession, "транспорт не задан", nil)
	}

	session, err := c.transport.Invite(ctx, c.number, c.constraints.UserMediaConstraints())
	if err != nil {
		c.logger.Warn("не удалось отправить приглашение",
			slog.String("id", c.id),
			slog.String("number", c.number),
			slog.Any("error", err))
		c.transition(fsmEventRequestTerminated)
		c.stopEffects("")
		return NewError(ErrorCodeDialFailed, "отправка приглашения", err)
	}

	c.session = session
	c.setCallID(session.CallID())
	c.logger.Debug("исходящий вызов запущен",
		slog.String("id", c.id),
		slog.String("callID", c.callID),
		slog.String("number", c.number))

	session.Subscribe(c.dispatch)
	return nil
}

// setCallID назначает протокольный идентификатор не более одного раза.
func (c *Call) setCallID(callID string) {
	if c.callID == "" {
		c.callID = callID
	}
}

// Accept принимает входящий вызов. Имеет смысл только в статусе invite.
func (c *Call) Accept(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status() != StatusInvite {
		return NewError(ErrorCodeInvalidStatus, "принять можно только вызов в статусе invite", nil)
	}
	if c.session == nil {
		return NewError(ErrorCodeNoSession, "сеанс не привязан", nil)
	}
	return c.session.Accept(ctx, c.constraints.UserMediaConstraints())
}

// Hold ставит вызов на удержание. Без сеанса - no-op. Флаг holdActive
// выставляется оптимистично, не дожидаясь подтверждения транспорта.
func (c *Call) Hold(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	if err := c.session.Hold(ctx, c.constraints.UserMediaConstraints()); err != nil {
		return NewError(ErrorCodeTransportCommand, "удержание вызова", err)
	}
	c.holdActive = true
	return nil
}

// Unhold снимает вызов с удержания. Без сеанса - no-op.
func (c *Call) Unhold(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	if err := c.session.Unhold(ctx, c.constraints.UserMediaConstraints()); err != nil {
		return NewError(ErrorCodeTransportCommand, "снятие с удержания", err)
	}
	c.holdActive = false
	return nil
}

// Transfer выполняет слепой перевод на набираемую строку.
func (c *Call) Transfer(ctx context.Context, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return NewError(ErrorCodeNoSession, "перевод без сеанса", nil)
	}
	return c.session.Refer(ctx, target)
}

// TransferToCall выполняет перевод на сеанс другого вызова
// (сопровождаемый перевод).
//
// Сеанс целевого вызова снимается до захвата собственного мьютекса:
// два вызова, переводящие друг на друга, не должны блокироваться
// взаимно.
func (c *Call) TransferToCall(ctx context.Context, other *Call) error {
	otherSession := other.currentSession()
	if otherSession == nil {
		return NewError(ErrorCodeNoSession, "целевой вызов без сеанса", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return NewError(ErrorCodeNoSession, "перевод без сеанса", nil)
	}
	return c.session.ReferReplace(ctx, otherSession)
}

// currentSession возвращает привязанный сеанс под собственным мьютексом.
func (c *Call) currentSession() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Terminate завершает вызов в зависимости от текущего статуса. Ошибка
// транспорта не оставляет вызов "зависшим": он принудительно
// останавливается в любом случае.
func (c *Call) Terminate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status() {
	case StatusNew:
		// Пустой вызов: удаляется из реестра без смены статуса и
		// без уведомлений
		if c.registry != nil {
			c.registry.DeleteCall(c)
		}

	case StatusCreate:
		// Свежий исходящий вызов; сеанса может еще не быть
		if c.session != nil {
			if err := c.session.Terminate(ctx); err != nil {
				c.logger.Warn("не удалось завершить сеанс",
					slog.String("callID", c.callID),
					slog.Any("error", err))
			}
		}
		c.transition(fsmEventRequestTerminated)
		// Закрывающие события сеанса уже не придут - останавливаем
		// вызов вручную
		c.stopEffects("")

	case StatusInvite:
		c.transition(fsmEventRequestTerminated)
		if err := c.session.Reject(ctx); err != nil {
			c.logger.Warn("не удалось корректно отклонить сеанс",
				slog.String("callID", c.callID),
				slog.Any("error", err))
			c.forceStop()
			return
		}
		c.stopEffects(c.catalog.StatusMessage(c.status(), c.direction))

	case StatusAccepted:
		err := c.session.Bye(ctx)
		// Собственный BYE не отражается событием сеанса - статус
		// выставляется вручную
		c.transition(fsmEventBye)
		if err != nil {
			c.logger.Warn("не удалось корректно завершить сеанс",
				slog.String("callID", c.callID),
				slog.Any("error", err))
			c.forceStop()
			return
		}
		c.stopEffects(c.catalog.StatusMessage(c.status(), c.direction))

	default:
		c.logger.Debug("завершение вызова в терминальном статусе проигнорировано",
			slog.String("callID", c.callID),
			slog.String("status", c.fsm.Current()))
	}
}

// startEffects - идемпотентный побочный эффект принятия вызова:
// остановка КПВ и локализованное сообщение. Вызывается под mu.
func (c *Call) startEffects() {
	if c.started {
		return
	}
	c.started = true
	c.ringbackTone.Stop()
	c.notifier.Notify(Notification{
		Message: c.catalog.StatusMessage(StatusAccepted, c.direction),
	})
}

// stopEffects - идемпотентный побочный эффект остановки: остановка
// тонов, локализованное сообщение и запрос на удаление из реестра.
// Повторное применение не дает повторных уведомлений. Вызывается под mu.
func (c *Call) stopEffects(message string) {
	if c.stopped {
		return
	}
	c.stopped = true
	c.ringbackTone.Stop()
	if message != "" {
		c.notifier.Notify(Notification{Message: message})
	}
	if c.registry != nil {
		c.registry.DeleteCall(c)
	}
}

// forceStop безусловно переводит вызов в остановленное состояние.
// Терминальный статус никогда не перезаписывается. Вызывается под mu.
func (c *Call) forceStop() {
	if !c.status().Terminal() {
		c.fsm.SetState(string(StatusRequestTerminated))
	}
	c.stopEffects("")
}
