package feed

import (
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/k3a/html2text"
	"github.com/microcosm-cc/bluemonday"
	"github.com/migadu/mailfeed/helpers"
)

// fieldPolicy strips markup from single-line fields (titles, names) so that
// readers rendering them as HTML show what the sender typed.
var fieldPolicy = bluemonday.StrictPolicy()

// XML parsers turn CR and CRLF into LF, so bodies are stored that way to
// keep their size stable across a reload.
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func cleanField(s string) string {
	s = helpers.SanitizeXMLText(s)
	if strings.ContainsAny(s, "<>&") {
		s = html.UnescapeString(fieldPolicy.Sanitize(s))
	}
	return strings.Join(strings.Fields(s), " ")
}

// FeedParams is the input of BuildFeed.
type FeedParams struct {
	Identity     SenderIdentity
	Headers      Headers
	BucketDomain string
	FeedKey      string
	Now          time.Time
	Entries      []Entry
}

// BuildFeed assembles a feed document. Every feed-level field is derived from
// params; Entries is attached as given.
func BuildFeed(p FeedParams) *Feed {
	links := ResolveFeedLinks(p.BucketDomain, p.FeedKey, p.Identity.Domain, p.Headers)
	icon, logo := IconURLs(links[0].Href)

	return &Feed{
		ID:      FeedID(p.Identity.Domain, p.Identity.LocalPart),
		Title:   cleanField(p.Identity.DisplayName()),
		Updated: NewTimestamp(p.Now),
		Icon:    icon,
		Logo:    logo,
		Links:   links,
		Author:  author(p.Identity),
		Entries: p.Entries,
	}
}

func author(id SenderIdentity) *Person {
	name := cleanField(id.Name)
	if name == "" {
		name = id.LocalPart
	}
	return &Person{Name: name, Email: id.Address}
}

// SummaryMode selects how the entry summary is produced.
type SummaryMode string

const (
	SummarySubject SummaryMode = "subject"
	SummaryExcerpt SummaryMode = "excerpt"
)

// EntryParams is the input of BuildEntry.
type EntryParams struct {
	Identity      SenderIdentity
	Email         *Email
	MessageKey    string
	Now           time.Time
	Links         []Link
	Summary       SummaryMode
	ExcerptLength int
}

// BuildEntry creates the entry for one message. The title is the subject,
// or the message key when the subject is empty.
func BuildEntry(p EntryParams) Entry {
	body, kind := p.Email.Body()
	body = lineEndings.Replace(helpers.SanitizeXMLText(body))

	title := cleanField(p.Email.Subject)
	if title == "" {
		title = p.MessageKey
	}

	entry := Entry{
		ID:      EntryID(p.Identity.Domain, p.MessageKey),
		Title:   title,
		Updated: NewTimestamp(p.Now),
		Links:   p.Links,
		Author:  author(p.Identity),
		Content: &Content{Kind: kind, Body: body},
	}

	switch p.Summary {
	case SummaryExcerpt:
		entry.Summary = excerpt(body, kind, p.ExcerptLength)
	default:
		entry.Summary = cleanField(p.Email.Subject)
	}
	return entry
}

// excerpt returns the first maxRunes characters of the body as plain text.
func excerpt(body, kind string, maxRunes int) string {
	text := body
	if kind == ContentHTML {
		text = html2text.HTML2Text(body)
	}
	text = strings.Join(strings.Fields(text), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
