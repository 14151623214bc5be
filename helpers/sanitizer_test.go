package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeField(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Message-ID brackets", "<message-id>", "message-id"},
		{"List-Post URL", "<https://example.substack.com/p/post>", "https://example.substack.com/p/post"},
		{"Whitespace and quotes", "  \"'value'\"\t\n", "value"},
		{"Ampersands", "&&value&", "value"},
		{"Inner characters untouched", "<a<b>c>", "a<b>c"},
		{"Only trim characters", "<>&'\" ", ""},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeField(tt.input))
		})
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Message-ID", "<message-id>", "message-id"},
		{"Domain", "domain.com", "domain-com"},
		{"Address", "sender@domain.com", "sender-domain-com"},
		{"Case preserved", "Sender@Domain.COM", "Sender-Domain-COM"},
		{"Typical Message-ID", "<CAF=abc.123@mail.gmail.com>", "CAF-abc-123-mail-gmail-com"},
		{"Non-ASCII", "<über@host>", "-ber-host"},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeID(tt.input))
		})
	}
}

func TestSanitizeIDIsIdempotent(t *testing.T) {
	inputs := []string{"<message-id>", "a.b@c.d", "  <x y z>  ", "ümlaut"}
	for _, in := range inputs {
		once := SanitizeID(in)
		assert.Equal(t, once, SanitizeID(once), "input %q", in)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "hello", SanitizeUTF8("hello"))
	assert.Equal(t, "helo", SanitizeUTF8("hel\x00o"))
	assert.Equal(t, "ab", SanitizeUTF8("a\xffb"))
	assert.Equal(t, "héllo", SanitizeUTF8("héllo"))
}

func TestSanitizeXMLText(t *testing.T) {
	assert.Equal(t, "plain text\n\twith tabs", SanitizeXMLText("plain text\n\twith tabs"))
	assert.Equal(t, "ab", SanitizeXMLText("a\x0bb"))
	assert.Equal(t, "ab", SanitizeXMLText("a\x00\x1fb"))
	assert.Equal(t, "emoji 🎉", SanitizeXMLText("emoji 🎉"))
	assert.Equal(t, "ab", SanitizeXMLText("a\uFFFEb"))
}
