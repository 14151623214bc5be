package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/migadu/mailfeed/consts"
)

// TimestampLayout is RFC 3339 with millisecond precision in UTC, e.g.
// 2025-03-01T09:30:00.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

// Content kinds, used as the Atom content type attribute.
const (
	ContentHTML = "html"
	ContentText = "text"
)

// Feed is an Atom feed document. Entries are ordered most recent first.
type Feed struct {
	XMLName xml.Name  `xml:"http://www.w3.org/2005/Atom feed"`
	ID      string    `xml:"id"`
	Title   string    `xml:"title"`
	Updated Timestamp `xml:"updated"`
	Icon    string    `xml:"icon,omitempty"`
	Logo    string    `xml:"logo,omitempty"`
	Links   []Link    `xml:"link"`
	Author  *Person   `xml:"author,omitempty"`
	Entries []Entry   `xml:"entry"`
}

type Entry struct {
	ID      string    `xml:"id"`
	Title   string    `xml:"title"`
	Updated Timestamp `xml:"updated"`
	Summary string    `xml:"summary,omitempty"`
	Links   []Link    `xml:"link"`
	Author  *Person   `xml:"author,omitempty"`
	Content *Content  `xml:"content,omitempty"`
}

type Link struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
	Type string `xml:"type,attr,omitempty"`
}

type Person struct {
	Name  string `xml:"name"`
	Email string `xml:"email,omitempty"`
}

// Content holds the entry body. Kind is ContentHTML or ContentText.
type Content struct {
	Kind string `xml:"type,attr"`
	Body string `xml:",cdata"`
}

// Size is the UTF-8 byte length of the body.
func (c *Content) Size() int64 {
	if c == nil {
		return 0
	}
	return int64(len(c.Body))
}

// Timestamp marshals as TimestampLayout and accepts any RFC 3339 time.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Millisecond)}
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Timestamp) UnmarshalText(b []byte) error {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

// Marshal renders f as a standalone XML document. pretty selects indented
// output.
func Marshal(f *Feed, pretty bool) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	if pretty {
		body, err = xml.MarshalIndent(f, "", "  ")
	} else {
		body, err = xml.Marshal(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", consts.ErrSerializationFailed, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(xmlHeader) + len(body) + 1)
	buf.WriteString(xmlHeader)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Unmarshal parses a document produced by Marshal. Any parse failure is
// reported as consts.ErrMalformedFeed.
func Unmarshal(data []byte) (*Feed, error) {
	var f Feed
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", consts.ErrMalformedFeed, err)
	}
	if f.ID == "" {
		return nil, fmt.Errorf("%w: missing feed id", consts.ErrMalformedFeed)
	}
	return &f, nil
}
