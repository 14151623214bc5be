package lmtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/metrics"
	"github.com/migadu/mailfeed/server/delivery"
)

// LMTPSession handles one client connection. The envelope is only
// validated for sequence: the feed is chosen from the message's From header
// and every recipient receives the same status.
type LMTPSession struct {
	backend    *LMTPServerBackend
	ctx        context.Context
	cancel     context.CancelFunc
	release    func() // frees the connection limiter slot
	id         string
	remote     string
	startTime  time.Time
	sender     string
	recipients []string
	hasSender  bool
}

func (s *LMTPSession) log(msg string, args ...any) {
	args = append([]any{"session", s.id, "remote", s.remote}, args...)
	logger.Debug("LMTP: "+msg, args...)
}

func commandStatus(name string, err *error) {
	status := "success"
	if *err != nil {
		status = "failure"
	}
	metrics.CommandsTotal.WithLabelValues("lmtp", name, status).Inc()
}

func (s *LMTPSession) Mail(from string, opts *smtp.MailOptions) (err error) {
	defer commandStatus("MAIL", &err)

	if opts != nil && opts.Size > 0 && s.backend.maxMessageSize > 0 && opts.Size > s.backend.maxMessageSize {
		return tooLarge(s.backend.maxMessageSize)
	}
	s.sender = from
	s.hasSender = true
	s.log("mail from accepted", "from", from)
	return nil
}

func (s *LMTPSession) Rcpt(to string, opts *smtp.RcptOptions) (err error) {
	defer commandStatus("RCPT", &err)

	if !s.hasSender {
		return badSequence()
	}
	s.recipients = append(s.recipients, to)
	s.log("recipient accepted", "to", to)
	return nil
}

func (s *LMTPSession) Data(r io.Reader) (err error) {
	defer commandStatus("DATA", &err)

	if !s.hasSender || len(s.recipients) == 0 {
		return badSequence()
	}

	var buf bytes.Buffer
	reader := r
	if s.backend.maxMessageSize > 0 {
		// One extra byte detects an oversized message.
		reader = io.LimitReader(r, s.backend.maxMessageSize+1)
	}
	if _, err := io.Copy(&buf, reader); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return smtpErr
		}
		return s.internalError("failed to read message: %v", err)
	}
	if s.backend.maxMessageSize > 0 && int64(buf.Len()) > s.backend.maxMessageSize {
		s.log("message too large", "size", buf.Len(), "limit", s.backend.maxMessageSize)
		return tooLarge(s.backend.maxMessageSize)
	}

	ctx, _ := delivery.WithDeliveryID(s.ctx)
	res, err := s.backend.deliverer.Deliver(ctx, "lmtp", buf.Bytes())
	if err != nil {
		return deliveryError(err)
	}

	logger.InfoContext(ctx, "LMTP: Message delivered", "session", s.id, "feed", res.FeedKey, "entry", res.EntryID, "recipients", len(s.recipients))
	return nil
}

func (s *LMTPSession) Reset() {
	s.sender = ""
	s.hasSender = false
	s.recipients = nil
}

func (s *LMTPSession) Logout() error {
	s.backend.activeConnections.Add(-1)
	if s.release != nil {
		s.release()
	}
	metrics.ConnectionsCurrent.WithLabelValues("lmtp").Dec()
	if s.cancel != nil {
		s.cancel()
	}
	s.log("session closed", "duration", time.Since(s.startTime).String())
	return nil
}

func (s *LMTPSession) internalError(format string, a ...any) error {
	msg := fmt.Sprintf(format, a...)
	logger.Error("LMTP: Internal error", "session", s.id, "error", msg)
	return &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Internal error, try again later",
	}
}

// deliveryError maps a delivery failure to an SMTP reply. Problems with the
// message itself are permanent; everything else asks the MTA to retry.
func deliveryError(err error) *smtp.SMTPError {
	switch {
	case errors.Is(err, consts.ErrMissingSender):
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 7},
			Message:      "Message has no usable From address",
		}
	case errors.Is(err, consts.ErrMissingContent):
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message has no text or HTML body",
		}
	case errors.Is(err, consts.ErrMalformedMessage):
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}
	case errors.Is(err, context.Canceled):
		return &smtp.SMTPError{
			Code:         421,
			EnhancedCode: smtp.EnhancedCode{4, 3, 2},
			Message:      "Service shutting down",
		}
	default:
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Feed update failed, try again later",
		}
	}
}

func badSequence() error {
	return &smtp.SMTPError{
		Code:         503,
		EnhancedCode: smtp.EnhancedCode{5, 5, 1},
		Message:      "Bad sequence of commands (missing MAIL FROM or RCPT TO)",
	}
}

func tooLarge(limit int64) error {
	return &smtp.SMTPError{
		Code:         552,
		EnhancedCode: smtp.EnhancedCode{5, 3, 4},
		Message:      fmt.Sprintf("message size exceeds maximum allowed size of %d bytes", limit),
	}
}
