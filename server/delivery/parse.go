package delivery

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/feed"
	"github.com/migadu/mailfeed/helpers"
	"github.com/migadu/mailfeed/logger"
)

// ParseEmail decodes a raw RFC 5322 message. Transfer encodings and
// charsets are decoded; the first inline text/html part becomes the HTML
// body and the first inline text/plain part the text body. Attachments are
// ignored.
func ParseEmail(raw []byte) (*feed.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if message.IsUnknownCharset(err) {
		logger.Debug("Delivery: Unknown charset in message header", "error", err)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
	}
	defer mr.Close()

	email := &feed.Email{
		From:    fromAddress(mr.Header),
		Headers: headerList(mr.Header),
		Raw:     raw,
	}
	email.Subject, _ = mr.Header.Subject()
	email.MessageID = messageID(mr.Header)

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			if email.HTML == "" && email.Text == "" {
				return nil, fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
			}
			logger.Debug("Delivery: Stopped reading parts", "error", err)
			break
		}
		if p == nil {
			continue
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}

		switch contentType {
		case "text/html":
			if email.HTML != "" {
				continue
			}
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
			}
			email.HTML = string(body)
		case "text/plain":
			if email.Text != "" {
				continue
			}
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
			}
			email.Text = string(body)
		}
	}

	return email, nil
}

// fromAddress returns the first From mailbox, falling back to Sender.
func fromAddress(h mail.Header) feed.Address {
	for _, key := range []string{"From", "Sender"} {
		list, err := h.AddressList(key)
		if err == nil && len(list) > 0 {
			return feed.Address{Name: list[0].Name, Address: list[0].Address}
		}
	}
	return feed.Address{}
}

func headerList(h mail.Header) feed.Headers {
	var headers feed.Headers
	fields := h.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		headers = append(headers, feed.Header{Key: fields.Key(), Value: strings.TrimSpace(value)})
	}
	return headers
}

// messageID returns the Message-ID without angle brackets. Ids that lack
// the "left@right" form are common in practice and are kept as written.
func messageID(h mail.Header) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return helpers.SanitizeField(h.Get("Message-ID"))
}
