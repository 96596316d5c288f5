package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/webcall/pkg/call"
)

// Проверка соответствия интерфейсам ядра во время компиляции
var (
	_ call.Session   = (*Session)(nil)
	_ call.Transport = (*Stack)(nil)
)

// Размер буфера событий сеанса. Диалог порождает единицы событий;
// буфер лишь развязывает доставку от стека транспорта.
const eventQueueSize = 32

// Session представляет один SIP диалог и реализует call.Session.
// Экземпляром владеет Stack; ядро вызовов только подписывается на
// события и отдает команды.
type Session struct {
	stack  *Stack
	logger *slog.Logger

	callID    string
	localTag  string
	remoteTag string
	localSeq  uint32

	// Адресация диалога. local/remote фиксируются при создании, чтобы
	// командам не приходилось различать направление.
	localAddr    sip.Uri
	remoteAddr   sip.Uri
	remoteTarget sip.Uri // Contact удаленной стороны

	remoteDisplayName string

	inviteReq *sip.Request
	// serverTx - транзакция входящего приглашения, пока оно не отвечено
	serverTx sip.ServerTransaction

	accepted bool
	closed   bool

	endpoint *mediaEndpoint

	subscriber func(call.Event)
	events     chan call.Event
	done       chan struct{}
	pumpOnce   sync.Once
	closeOnce  sync.Once

	mu sync.Mutex
}

// newIncomingSession создает сеанс для входящего приглашения.
func newIncomingSession(s *Stack, req *sip.Request, tx sip.ServerTransaction) (*Session, error) {
	endpoint, err := newMediaEndpoint(s.config.Media, s.logger)
	if err != nil {
		return nil, fmt.Errorf("создание медиа-транспорта: %w", err)
	}
	if body := req.Body(); len(body) > 0 {
		if err := endpoint.applyRemoteDescription(body); err != nil {
			endpoint.stop()
			return nil, fmt.Errorf("разбор SDP оффера: %w", err)
		}
	}

	from := req.From()
	remoteTag, _ := from.Params.Get("tag")

	sess := &Session{
		stack:             s,
		logger:            s.logger,
		callID:            req.CallID().Value(),
		localTag:          generateTag(),
		remoteTag:         remoteTag,
		localAddr:         req.To().Address,
		remoteAddr:        from.Address,
		remoteDisplayName: from.DisplayName,
		inviteReq:         req,
		serverTx:          tx,
		endpoint:          endpoint,
		events:            make(chan call.Event, eventQueueSize),
		done:              make(chan struct{}),
	}

	if contact := req.GetHeader("Contact"); contact != nil {
		var uri sip.Uri
		if err := sip.ParseUri(contactURIValue(contact.Value()), &uri); err == nil {
			sess.remoteTarget = uri
		}
	}

	endpoint.onTrack(func() {
		sess.emit(call.Event{Kind: call.EventTrackAdded})
	})
	return sess, nil
}

// CallID возвращает SIP Call-ID диалога.
func (sess *Session) CallID() string {
	return sess.callID
}

// RemoteDisplayName возвращает отображаемое имя удаленной стороны.
func (sess *Session) RemoteDisplayName() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.remoteDisplayName
}

// RemoteUser возвращает user-часть URI удаленной стороны.
func (sess *Session) RemoteUser() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.remoteAddr.User
}

// RemoteHeader возвращает значение заголовка исходного приглашения.
func (sess *Session) RemoteHeader(name string) string {
	if h := sess.inviteReq.GetHeader(name); h != nil {
		return h.Value()
	}
	return ""
}

// Subscribe регистрирует получателя событий и запускает доставку.
// События, пришедшие до подписки, буферизуются и доставляются в
// исходном порядке.
func (sess *Session) Subscribe(fn func(call.Event)) {
	sess.mu.Lock()
	sess.subscriber = fn
	sess.mu.Unlock()

	sess.pumpOnce.Do(func() {
		go sess.pump()
	})
}

// pump доставляет события подписчику вне стека транспорта и команд.
func (sess *Session) pump() {
	for {
		select {
		case ev := <-sess.events:
			sess.mu.Lock()
			fn := sess.subscriber
			sess.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		case <-sess.done:
			// Дорабатываем накопленные события перед выходом
			for {
				select {
				case ev := <-sess.events:
					sess.mu.Lock()
					fn := sess.subscriber
					sess.mu.Unlock()
					if fn != nil {
						fn(ev)
					}
				default:
					return
				}
			}
		}
	}
}

func (sess *Session) emit(ev call.Event) {
	select {
	case sess.events <- ev:
	default:
		sess.logger.Warn("очередь событий сеанса переполнена, событие отброшено",
			slog.String("callID", sess.callID),
			slog.String("event", ev.Kind.String()))
	}
}

// Accept отвечает 200 OK с SDP ансвером и запускает медиа-транспорт.
func (sess *Session) Accept(_ context.Context, constraints call.MediaConstraints) error {
	sess.mu.Lock()
	tx := sess.serverTx
	sess.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("сеанс не является входящим приглашением")
	}

	answer, err := sess.endpoint.localDescription()
	if err != nil {
		return fmt.Errorf("построение SDP ансвера: %w", err)
	}

	resp := sip.NewResponseFromRequest(sess.inviteReq, sip.StatusOK, "OK", answer)
	ensureToTag(resp, sess.localTag)
	resp.AppendHeader(&sess.stack.contact)
	resp.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(resp); err != nil {
		return fmt.Errorf("отправка 200 OK: %w", err)
	}

	sess.mu.Lock()
	sess.accepted = true
	sess.serverTx = nil
	sess.mu.Unlock()

	sess.endpoint.start()
	// Локальные дорожки готовы сразу после старта транспорта
	sess.emit(call.Event{Kind: call.EventTrackAdded})
	return nil
}

// Reject отклоняет неотвеченное входящее приглашение.
func (sess *Session) Reject(_ context.Context) error {
	sess.mu.Lock()
	tx := sess.serverTx
	sess.serverTx = nil
	sess.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("нет ожидающего приглашения")
	}

	resp := sip.NewResponseFromRequest(sess.inviteReq, 603, "Decline", nil)
	ensureToTag(resp, sess.localTag)
	err := tx.Respond(resp)
	sess.close()
	if err != nil {
		return fmt.Errorf("отправка отказа: %w", err)
	}
	return nil
}

// Bye завершает подтвержденный диалог.
func (sess *Session) Bye(ctx context.Context) error {
	bye := sess.buildInDialogRequest(sip.BYE)
	tx, err := sess.stack.client.TransactionRequest(ctx, bye)
	sess.close()
	if err != nil {
		return fmt.Errorf("отправка BYE: %w", err)
	}
	go sess.drainFinalResponse(tx, "BYE")
	return nil
}

// Hold ставит медиа-поток на удержание через re-INVITE с направлением
// sendonly.
func (sess *Session) Hold(ctx context.Context, constraints call.MediaConstraints) error {
	sess.endpoint.setDirection(directionSendOnly)
	return sess.sendReinvite(ctx)
}

// Unhold возобновляет медиа-поток через re-INVITE с sendrecv.
func (sess *Session) Unhold(ctx context.Context, constraints call.MediaConstraints) error {
	sess.endpoint.setDirection(directionSendRecv)
	return sess.sendReinvite(ctx)
}

// sendReinvite отправляет re-INVITE с текущим SDP.
func (sess *Session) sendReinvite(ctx context.Context) error {
	body, err := sess.endpoint.localDescription()
	if err != nil {
		return fmt.Errorf("построение SDP: %w", err)
	}

	reinvite := sess.buildInDialogRequest(sip.INVITE)
	reinvite.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	reinvite.SetBody(body)

	tx, err := sess.stack.client.TransactionRequest(ctx, reinvite)
	if err != nil {
		return fmt.Errorf("отправка re-INVITE: %w", err)
	}

	go func() {
		for {
			select {
			case <-tx.Done():
				return
			case resp, ok := <-tx.Responses():
				if !ok || resp == nil {
					return
				}
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					sess.sendACK(resp, reinvite.CSeq().SeqNo)
					return
				}
				if resp.StatusCode >= 300 {
					sess.logger.Warn("re-INVITE отклонен",
						slog.String("callID", sess.callID),
						slog.Int("statusCode", int(resp.StatusCode)))
					return
				}
			}
		}
	}()
	return nil
}

// Refer выполняет слепой перевод на набираемую строку.
func (sess *Session) Refer(ctx context.Context, target string) error {
	uri, err := sess.stack.targetURI(target)
	if err != nil {
		return err
	}

	refer := sess.buildInDialogRequest(sip.REFER)
	refer.AppendHeader(sip.NewHeader("Refer-To", fmt.Sprintf("<%s>", uri.String())))
	refer.AppendHeader(sip.NewHeader("Referred-By", fmt.Sprintf("<%s>", sess.localAddr.String())))

	tx, err := sess.stack.client.TransactionRequest(ctx, refer)
	if err != nil {
		return fmt.Errorf("отправка REFER: %w", err)
	}
	go sess.drainFinalResponse(tx, "REFER")
	return nil
}

// ReferReplace выполняет сопровождаемый перевод: REFER с Replaces на
// диалог другого сеанса.
func (sess *Session) ReferReplace(ctx context.Context, other call.Session) error {
	target, ok := other.(*Session)
	if !ok {
		return fmt.Errorf("сопровождаемый перевод возможен только между SIP сеансами")
	}

	target.mu.Lock()
	replaces := fmt.Sprintf("%s;to-tag=%s;from-tag=%s",
		target.callID, target.remoteTag, target.localTag)
	targetURI := target.remoteAddr
	target.mu.Unlock()

	refer := sess.buildInDialogRequest(sip.REFER)
	referTo := fmt.Sprintf("<%s?Replaces=%s>", targetURI.String(), escapeReplaces(replaces))
	refer.AppendHeader(sip.NewHeader("Refer-To", referTo))

	tx, err := sess.stack.client.TransactionRequest(ctx, refer)
	if err != nil {
		return fmt.Errorf("отправка REFER с Replaces: %w", err)
	}
	go sess.drainFinalResponse(tx, "REFER")
	return nil
}

// Terminate завершает сеанс способом, соответствующим его фазе:
// BYE для подтвержденного диалога, 487 для неотвеченного входящего,
// CANCEL для раннего исходящего.
func (sess *Session) Terminate(ctx context.Context) error {
	sess.mu.Lock()
	accepted := sess.accepted
	tx := sess.serverTx
	sess.serverTx = nil
	sess.mu.Unlock()

	if accepted {
		return sess.Bye(ctx)
	}

	if tx != nil {
		resp := sip.NewResponseFromRequest(sess.inviteReq, sip.StatusRequestTerminated, "Request Terminated", nil)
		ensureToTag(resp, sess.localTag)
		err := tx.Respond(resp)
		sess.close()
		if err != nil {
			return fmt.Errorf("завершение входящего приглашения: %w", err)
		}
		return nil
	}

	// Ранний исходящий диалог: CANCEL по исходному INVITE
	cancel := sip.NewRequest(sip.CANCEL, sess.inviteReq.Recipient)
	cancel.AppendHeader(sip.NewHeader("Call-ID", sess.callID))
	cancel.AppendHeader(sess.inviteReq.From())
	cancel.AppendHeader(sess.inviteReq.To())
	cancel.AppendHeader(&sip.CSeqHeader{
		SeqNo:      sess.inviteReq.CSeq().SeqNo,
		MethodName: sip.CANCEL,
	})
	cancel.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	err := sess.stack.client.WriteRequest(cancel)
	sess.close()
	if err != nil {
		return fmt.Errorf("отправка CANCEL: %w", err)
	}
	return nil
}

// PeerConnection возвращает снимок медиа-соединения.
func (sess *Session) PeerConnection() call.PeerConnection {
	return sess.endpoint
}

// handleRemoteBye обрабатывает BYE удаленной стороны.
func (sess *Session) handleRemoteBye(req *sip.Request) {
	sess.emit(call.Event{
		Kind:    call.EventBye,
		Headers: headersFrom(req, "Reason", "X-Asterisk-Hangupcausecode"),
	})
	sess.close()
}

// handleRemoteCancel обрабатывает CANCEL: неотвеченное приглашение
// получает 487, ядру уходит событие failed с методом CANCEL.
func (sess *Session) handleRemoteCancel(req *sip.Request) {
	sess.mu.Lock()
	tx := sess.serverTx
	sess.serverTx = nil
	sess.mu.Unlock()

	if tx != nil {
		resp := sip.NewResponseFromRequest(sess.inviteReq, sip.StatusRequestTerminated, "Request Terminated", nil)
		ensureToTag(resp, sess.localTag)
		if err := tx.Respond(resp); err != nil {
			sess.logger.Warn("не удалось ответить 487 на отмененное приглашение",
				slog.String("callID", sess.callID),
				slog.Any("error", err))
		}
	}

	sess.emit(call.Event{
		Kind:    call.EventFailed,
		Method:  "CANCEL",
		Headers: headersFrom(req, "Reason"),
	})
	sess.close()
}

// handleRemoteRefer сообщает ядру о слепом переводе удаленной стороны.
func (sess *Session) handleRemoteRefer(req *sip.Request) {
	sess.emit(call.Event{
		Kind:    call.EventRefer,
		Headers: headersFrom(req, "Refer-To"),
	})
}

// handleReinvite отвечает на re-INVITE текущим SDP и передает ядру
// возможное обновление идентификации звонящего.
func (sess *Session) handleReinvite(req *sip.Request, tx sip.ServerTransaction) {
	if body := req.Body(); len(body) > 0 {
		if err := sess.endpoint.applyRemoteDescription(body); err != nil {
			sess.logger.Warn("не удалось применить SDP из re-INVITE",
				slog.String("callID", sess.callID),
				slog.Any("error", err))
			sess.stack.respond(tx, sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
			return
		}
	}

	answer, err := sess.endpoint.localDescription()
	if err != nil {
		sess.stack.respond(tx, sip.NewResponseFromRequest(req, 500, "Media Failure", nil))
		return
	}

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	ensureToTag(resp, sess.localTag)
	resp.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	sess.stack.respond(tx, resp)

	sess.emit(call.Event{
		Kind:    call.EventReinvite,
		Headers: headersFrom(req, "Remote-Party-Id"),
	})
}

// buildInDialogRequest строит запрос внутри диалога с адресацией и
// нумерацией этого сеанса.
func (sess *Session) buildInDialogRequest(method sip.RequestMethod) *sip.Request {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	recipient := sess.remoteTarget
	if recipient.Host == "" {
		recipient = sess.remoteAddr
	}

	req := sip.NewRequest(method, recipient)
	req.AppendHeader(sip.NewHeader("Call-ID", sess.callID))
	req.AppendHeader(&sip.FromHeader{
		Address: sess.localAddr,
		Params:  sip.HeaderParams{"tag": sess.localTag},
	})
	toParams := sip.HeaderParams{}
	if sess.remoteTag != "" {
		toParams["tag"] = sess.remoteTag
	}
	req.AppendHeader(&sip.ToHeader{
		Address: sess.remoteAddr,
		Params:  toParams,
	})
	sess.localSeq++
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      sess.localSeq,
		MethodName: method,
	})
	req.AppendHeader(&sess.stack.contact)
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	return req
}

// sendACK подтверждает 2xx ответ на INVITE.
func (sess *Session) sendACK(resp *sip.Response, inviteSeq uint32) {
	sess.mu.Lock()
	recipient := sess.remoteTarget
	if recipient.Host == "" {
		recipient = sess.remoteAddr
	}
	sess.mu.Unlock()

	ack := sip.NewRequest(sip.ACK, recipient)
	ack.AppendHeader(sip.NewHeader("Call-ID", sess.callID))
	ack.AppendHeader(sess.inviteReq.From())
	ack.AppendHeader(resp.To())
	ack.AppendHeader(&sip.CSeqHeader{
		SeqNo:      inviteSeq,
		MethodName: sip.ACK,
	})
	ack.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	if err := sess.stack.client.WriteRequest(ack); err != nil {
		sess.logger.Warn("не удалось отправить ACK",
			slog.String("callID", sess.callID),
			slog.Any("error", err))
	}
}

// drainFinalResponse дочитывает финальный ответ транзакции и логирует
// отказ; команда уже завершилась, влиять на вызов поздно.
func (sess *Session) drainFinalResponse(tx sip.ClientTransaction, method string) {
	for {
		select {
		case <-tx.Done():
			return
		case resp, ok := <-tx.Responses():
			if !ok || resp == nil {
				return
			}
			if resp.StatusCode >= 300 {
				sess.logger.Warn("запрос отклонен удаленной стороной",
					slog.String("callID", sess.callID),
					slog.String("method", method),
					slog.Int("statusCode", int(resp.StatusCode)))
				return
			}
			if resp.StatusCode >= 200 {
				return
			}
		}
	}
}

// close убирает сеанс из стека и останавливает медиа-транспорт.
// Идемпотентен.
func (sess *Session) close() {
	sess.closeOnce.Do(func() {
		sess.mu.Lock()
		sess.closed = true
		sess.mu.Unlock()

		sess.stack.removeSession(sess.callID)
		sess.endpoint.stop()
		close(sess.done)
	})
}
