package sipua

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/webcall/pkg/call"
)

// Invite отправляет приглашение и возвращает сеанс исходящего диалога.
// Реализует call.Transport. Ответы на INVITE потребляются фоновой
// горутиной и доставляются ядру типизированными событиями.
func (s *Stack) Invite(ctx context.Context, target string, constraints call.MediaConstraints) (call.Session, error) {
	uri, err := s.targetURI(target)
	if err != nil {
		return nil, err
	}

	endpoint, err := newMediaEndpoint(s.config.Media, s.logger)
	if err != nil {
		return nil, fmt.Errorf("создание медиа-транспорта: %w", err)
	}

	offer, err := endpoint.localDescription()
	if err != nil {
		endpoint.stop()
		return nil, fmt.Errorf("построение SDP оффера: %w", err)
	}

	callID := generateCallID()
	localTag := generateTag()
	localURI := s.localURI()

	invite := sip.NewRequest(sip.INVITE, uri)
	invite.AppendHeader(sip.NewHeader("Call-ID", callID))
	invite.AppendHeader(&sip.FromHeader{
		DisplayName: s.config.DisplayName,
		Address:     localURI,
		Params:      sip.HeaderParams{"tag": localTag},
	})
	invite.AppendHeader(&sip.ToHeader{
		Address: uri,
		Params:  sip.HeaderParams{},
	})
	invite.AppendHeader(&sip.CSeqHeader{
		SeqNo:      1,
		MethodName: sip.INVITE,
	})
	invite.AppendHeader(&s.contact)
	invite.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	if s.config.UserAgent != "" {
		invite.AppendHeader(sip.NewHeader("User-Agent", s.config.UserAgent))
	}
	invite.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	invite.SetBody(offer)

	sess := &Session{
		stack:      s,
		logger:     s.logger,
		callID:     callID,
		localTag:   localTag,
		localSeq:   1,
		localAddr:  localURI,
		remoteAddr: uri,
		inviteReq:  invite,
		endpoint:   endpoint,
		events:     make(chan call.Event, eventQueueSize),
		done:       make(chan struct{}),
	}
	endpoint.onTrack(func() {
		sess.emit(call.Event{Kind: call.EventTrackAdded})
	})

	tx, err := s.client.TransactionRequest(ctx, invite)
	if err != nil {
		endpoint.stop()
		return nil, fmt.Errorf("отправка INVITE: %w", err)
	}

	s.addSession(sess)
	go sess.consumeInviteResponses(tx)

	s.logger.Debug("приглашение отправлено",
		slog.String("callID", callID),
		slog.String("target", uri.String()))
	return sess, nil
}

// consumeInviteResponses превращает ответы на INVITE в события сеанса.
func (sess *Session) consumeInviteResponses(tx sip.ClientTransaction) {
	for {
		select {
		case <-sess.done:
			return
		case <-tx.Done():
			return
		case resp, ok := <-tx.Responses():
			if !ok || resp == nil {
				return
			}
			switch {
			case resp.StatusCode < 200:
				sess.handleProvisional(resp)
			case resp.StatusCode < 300:
				sess.handleInviteSuccess(resp)
			default:
				sess.handleInviteFailure(resp)
				return
			}
		}
	}
}

func (sess *Session) handleProvisional(resp *sip.Response) {
	sess.captureRemoteTag(resp)
	sess.emit(call.Event{
		Kind:       call.EventProgress,
		StatusCode: int(resp.StatusCode),
	})
}

func (sess *Session) handleInviteSuccess(resp *sip.Response) {
	sess.captureRemoteTag(resp)
	sess.captureRemoteTarget(resp)

	sess.mu.Lock()
	alreadyAccepted := sess.accepted
	sess.accepted = true
	sess.mu.Unlock()

	// Ретрансляция 2xx подтверждается повторным ACK без повторного
	// события для ядра
	sess.sendACK(resp, sess.inviteReq.CSeq().SeqNo)
	if alreadyAccepted {
		return
	}

	if body := resp.Body(); len(body) > 0 {
		if err := sess.endpoint.applyRemoteDescription(body); err != nil {
			sess.logger.Warn("не удалось применить SDP ансвер",
				slog.String("callID", sess.callID),
				slog.Any("error", err))
		}
	}
	sess.endpoint.start()

	sess.emit(call.Event{
		Kind:       call.EventAccepted,
		StatusCode: int(resp.StatusCode),
	})
	sess.emit(call.Event{Kind: call.EventTrackAdded})
}

func (sess *Session) handleInviteFailure(resp *sip.Response) {
	sess.emit(call.Event{
		Kind:       call.EventFailed,
		StatusCode: int(resp.StatusCode),
		Headers:    headersFrom(resp, "Reason"),
	})
	sess.close()
}

func (sess *Session) captureRemoteTag(resp *sip.Response) {
	to := resp.To()
	if to == nil {
		return
	}
	tag, ok := to.Params.Get("tag")
	if !ok || tag == "" {
		return
	}
	sess.mu.Lock()
	if sess.remoteTag == "" {
		sess.remoteTag = tag
	}
	sess.mu.Unlock()
}

func (sess *Session) captureRemoteTarget(resp *sip.Response) {
	contact := resp.GetHeader("Contact")
	if contact == nil {
		return
	}
	var uri sip.Uri
	if err := sip.ParseUri(contactURIValue(contact.Value()), &uri); err != nil {
		return
	}
	sess.mu.Lock()
	sess.remoteTarget = uri
	sess.mu.Unlock()
}
