package feed

import "strings"

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Address string
}

// Header is a single message header.
type Header struct {
	Key   string
	Value string
}

// Headers is an ordered header list.
type Headers []Header

// Get returns the value of the first header matching key, case-insensitively.
func (h Headers) Get(key string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			return hdr.Value
		}
	}
	return ""
}

// Email is a parsed inbound message.
type Email struct {
	From      Address
	Subject   string
	MessageID string
	Headers   Headers
	HTML      string
	Text      string
	Raw       []byte
}

// Body returns the HTML body when there is one, else the text body, together
// with its content kind. An empty body means the message has no usable content.
func (e *Email) Body() (string, string) {
	if strings.TrimSpace(e.HTML) != "" {
		return e.HTML, ContentHTML
	}
	if strings.TrimSpace(e.Text) != "" {
		return e.Text, ContentText
	}
	return "", ""
}
