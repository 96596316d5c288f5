package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Config - конфигурация SIP стека.
type Config struct {
	// Transport - протокол сигнализации: udp или tcp
	Transport string
	// ListenAddr - адрес прослушивания, host:port
	ListenAddr string
	// UserAgent - значение заголовка User-Agent
	UserAgent string
	// Username и Domain образуют локальный URI
	Username string
	Domain   string
	// DisplayName - отображаемое имя локальной стороны
	DisplayName string
	// Media - настройки медиа-транспорта
	Media MediaConfig
	// Logger - структурированный логгер; nil означает slog.Default
	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Transport:  "udp",
		ListenAddr: "127.0.0.1:5060",
		UserAgent:  "webcall/1.0",
		Username:   "webcall",
		Domain:     "localhost",
		Media:      DefaultMediaConfig(),
	}
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("не задан адрес прослушивания")
	}
	if c.Username == "" || c.Domain == "" {
		return fmt.Errorf("не заданы имя пользователя и домен")
	}
	if c.Transport != "udp" && c.Transport != "tcp" {
		return fmt.Errorf("неподдерживаемый транспорт: %s", c.Transport)
	}
	return nil
}

// Stack - SIP стек поверх sipgo. Владеет всеми SIP сеансами процесса и
// реализует call.Transport для исходящих вызовов.
type Stack struct {
	config *Config

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	contact sip.ContactHeader

	// Сеансы по Call-ID
	sessions map[string]*Session

	onIncoming func(*Session)

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex
}

// NewStack создает SIP стек.
func NewStack(config *Config) (*Stack, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация стека: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stack{
		config:   config,
		sessions: make(map[string]*Session),
		logger:   logger,
	}, nil
}

// OnIncomingSession устанавливает callback входящих приглашений.
// Должен быть установлен до Start.
func (s *Stack) OnIncomingSession(callback func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIncoming = callback
}

// Start запускает UA, сервер и клиент и начинает прослушивание.
func (s *Stack) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(s.config.UserAgent),
	)
	if err != nil {
		return fmt.Errorf("failed to create UA: %w", err)
	}
	s.ua = ua

	s.server, err = sipgo.NewServer(s.ua)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	s.client, err = sipgo.NewClient(s.ua)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	host, port := splitHostPort(s.config.ListenAddr)
	s.contact = sip.ContactHeader{
		Address: sip.Uri{
			User: s.config.Username,
			Host: host,
			Port: port,
		},
	}

	s.setupHandlers()

	go func() {
		if err := s.server.ListenAndServe(s.ctx, s.config.Transport, s.config.ListenAddr); err != nil {
			s.logger.Error("сервер сигнализации остановлен",
				slog.Any("error", err))
		}
	}()

	s.logger.Info("SIP стек запущен",
		slog.String("transport", s.config.Transport),
		slog.String("listen", s.config.ListenAddr))
	return nil
}

// Shutdown завершает все сеансы и останавливает стек.
func (s *Stack) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		if err := sess.Terminate(ctx); err != nil {
			s.logger.Warn("не удалось завершить сеанс при остановке",
				slog.String("callID", sess.CallID()),
				slog.Any("error", err))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.ua != nil {
		return s.ua.Close()
	}
	return nil
}

// setupHandlers регистрирует обработчики входящих SIP запросов.
func (s *Stack) setupHandlers() {
	s.server.OnInvite(func(req *sip.Request, tx sip.ServerTransaction) {
		s.handleInvite(req, tx)
	})
	s.server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {
		// ACK подтверждает 2xx; отдельной обработки не требуется
	})
	s.server.OnBye(func(req *sip.Request, tx sip.ServerTransaction) {
		s.handleBye(req, tx)
	})
	s.server.OnCancel(func(req *sip.Request, tx sip.ServerTransaction) {
		s.handleCancel(req, tx)
	})
	s.server.OnRefer(func(req *sip.Request, tx sip.ServerTransaction) {
		s.handleRefer(req, tx)
	})
}

// handleInvite обрабатывает новые приглашения и re-INVITE существующих
// диалогов.
func (s *Stack) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID()
	if callID == nil {
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Call-ID", nil))
		return
	}

	if sess, ok := s.findSession(callID.Value()); ok {
		sess.handleReinvite(req, tx)
		return
	}

	toTag, _ := req.To().Params.Get("tag")
	if toTag != "" {
		// Диалог нам неизвестен
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call Does Not Exist", nil))
		return
	}

	sess, err := newIncomingSession(s, req, tx)
	if err != nil {
		s.logger.Warn("не удалось создать сеанс для приглашения",
			slog.String("callID", callID.Value()),
			slog.Any("error", err))
		s.respond(tx, sip.NewResponseFromRequest(req, 500, "Media Setup Failed", nil))
		return
	}

	s.addSession(sess)

	// Предварительный ответ: удаленная сторона слышит КПВ
	s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil))
	s.respond(tx, sip.NewResponseFromRequest(req, 180, "Ringing", nil))

	s.mu.RLock()
	callback := s.onIncoming
	s.mu.RUnlock()
	if callback == nil {
		s.logger.Warn("входящее приглашение без обработчика отклонено",
			slog.String("callID", callID.Value()))
		_ = sess.Reject(context.Background())
		return
	}
	callback(sess)
}

func (s *Stack) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	sess, ok := s.sessionForRequest(req, tx)
	if !ok {
		return
	}
	s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	sess.handleRemoteBye(req)
}

func (s *Stack) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	sess, ok := s.sessionForRequest(req, tx)
	if !ok {
		return
	}
	s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	sess.handleRemoteCancel(req)
}

func (s *Stack) handleRefer(req *sip.Request, tx sip.ServerTransaction) {
	sess, ok := s.sessionForRequest(req, tx)
	if !ok {
		return
	}
	s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusAccepted, "Accepted", nil))
	sess.handleRemoteRefer(req)
}

// sessionForRequest находит сеанс по Call-ID запроса; неизвестный диалог
// получает 481.
func (s *Stack) sessionForRequest(req *sip.Request, tx sip.ServerTransaction) (*Session, bool) {
	callID := req.CallID()
	if callID == nil {
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Call-ID", nil))
		return nil, false
	}
	sess, ok := s.findSession(callID.Value())
	if !ok {
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call Does Not Exist", nil))
		return nil, false
	}
	return sess, true
}

func (s *Stack) respond(tx sip.ServerTransaction, resp *sip.Response) {
	if err := tx.Respond(resp); err != nil {
		s.logger.Warn("не удалось отправить ответ",
			slog.Int("statusCode", int(resp.StatusCode)),
			slog.Any("error", err))
	}
}

func (s *Stack) findSession(callID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[callID]
	return sess, ok
}

func (s *Stack) addSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.callID] = sess
}

func (s *Stack) removeSession(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
}

// localURI возвращает URI локальной стороны.
func (s *Stack) localURI() sip.Uri {
	return sip.Uri{User: s.config.Username, Host: s.config.Domain}
}

// targetURI строит URI назначения из набираемой строки. Строка без
// домена дополняется доменом стека.
func (s *Stack) targetURI(target string) (sip.Uri, error) {
	var uri sip.Uri
	raw := target
	if !containsScheme(raw) {
		raw = "sip:" + raw
	}
	if !containsHost(raw) {
		raw = raw + "@" + s.config.Domain
	}
	if err := sip.ParseUri(raw, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("некорректная цель вызова %q: %w", target, err)
	}
	return uri, nil
}
