package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = SenderIdentity{
	LocalPart: "sender",
	Domain:    "domain.com",
	Name:      "Sender Name",
	Address:   "sender@domain.com",
}

func TestBuildFeed(t *testing.T) {
	entries := []Entry{{ID: "urn:domain-com:a"}}
	f := BuildFeed(FeedParams{
		Identity:     testIdentity,
		BucketDomain: "rss.bucket.com",
		FeedKey:      "sender-domain-com.xml",
		Now:          testTime,
		Entries:      entries,
	})

	assert.Equal(t, &Feed{
		ID:      "urn:domain-com:sender",
		Title:   "Sender Name",
		Updated: NewTimestamp(testTime),
		Icon:    "https://s2.googleusercontent.com/s2/favicons?domain=domain.com&sz=32",
		Logo:    "https://s2.googleusercontent.com/s2/favicons?domain=domain.com&sz=128",
		Links: []Link{
			{Href: "https://domain.com", Rel: "alternate", Type: "text/html"},
			{Href: "https://rss.bucket.com/sender-domain-com.xml", Rel: "self", Type: "application/atom+xml"},
		},
		Author:  &Person{Name: "Sender Name", Email: "sender@domain.com"},
		Entries: entries,
	}, f)
}

func TestBuildFeedIDIsStable(t *testing.T) {
	base := BuildFeed(FeedParams{Identity: testIdentity, BucketDomain: "a", FeedKey: "k", Now: testTime})

	variants := []FeedParams{
		{Identity: SenderIdentity{LocalPart: "sender", Domain: "domain.com", Address: "sender+x@domain.com"}, BucketDomain: "a", FeedKey: "k", Now: testTime},
		{Identity: testIdentity, BucketDomain: "b", FeedKey: "k", Now: testTime.Add(24 * time.Hour)},
		{Identity: testIdentity, Headers: Headers{{Key: "List-URL", Value: "<https://other.test>"}}, BucketDomain: "a", FeedKey: "k", Now: testTime},
	}
	for _, p := range variants {
		assert.Equal(t, base.ID, BuildFeed(p).ID)
	}
}

func TestBuildFeedUsesListURL(t *testing.T) {
	f := BuildFeed(FeedParams{
		Identity:     testIdentity,
		Headers:      Headers{{Key: "List-URL", Value: "<https://example.substack.com>"}},
		BucketDomain: "rss.bucket.com",
		FeedKey:      "sender-domain-com.xml",
		Now:          testTime,
	})
	assert.Equal(t, "https://example.substack.com", f.Links[0].Href)
	assert.Equal(t, "https://s2.googleusercontent.com/s2/favicons?domain=example.substack.com&sz=32", f.Icon)
}

func TestBuildFeedNameFallbacks(t *testing.T) {
	id := SenderIdentity{LocalPart: "sender", Domain: "domain.com", Address: "sender@domain.com"}
	f := BuildFeed(FeedParams{Identity: id, BucketDomain: "a", FeedKey: "k", Now: testTime})

	assert.Equal(t, "sender@domain.com", f.Title)
	assert.Equal(t, &Person{Name: "sender", Email: "sender@domain.com"}, f.Author)
}

func TestCleanField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain Name", "Plain Name"},
		{"  Spaced \t out\r\n name ", "Spaced out name"},
		{"<b>Bold</b> & Co", "Bold & Co"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"Jo\x00hn\x01", "John"},
		{"Émile Zola", "Émile Zola"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanField(tt.in), "input %q", tt.in)
	}
}

func TestBuildEntry(t *testing.T) {
	email := &Email{
		From:    Address{Name: "Sender Name", Address: "sender@domain.com"},
		Subject: "Weekly\n  digest",
		HTML:    "<p>Email\x01 body.</p>",
		Text:    "Email body.",
	}
	links := []Link{{Href: "https://x.test/p/1", Rel: "alternate", Type: "text/html"}}

	entry := BuildEntry(EntryParams{
		Identity:   testIdentity,
		Email:      email,
		MessageKey: "message-id",
		Now:        testTime,
		Links:      links,
	})

	assert.Equal(t, Entry{
		ID:      "urn:domain-com:message-id",
		Title:   "Weekly digest",
		Updated: NewTimestamp(testTime),
		Summary: "Weekly digest",
		Links:   links,
		Author:  &Person{Name: "Sender Name", Email: "sender@domain.com"},
		Content: &Content{Kind: ContentHTML, Body: "<p>Email body.</p>"},
	}, entry)
}

func TestBuildEntryWithoutSubject(t *testing.T) {
	entry := BuildEntry(EntryParams{
		Identity:   testIdentity,
		Email:      &Email{Text: "just\r\ntext\r"},
		MessageKey: "abc123",
		Now:        testTime,
	})

	assert.Equal(t, "abc123", entry.Title)
	assert.Empty(t, entry.Summary)
	assert.Nil(t, entry.Links)
	require.NotNil(t, entry.Content)
	assert.Equal(t, ContentText, entry.Content.Kind)
	assert.Equal(t, "just\ntext\n", entry.Content.Body)
}

func TestBuildEntryExcerptSummary(t *testing.T) {
	tests := []struct {
		name   string
		email  *Email
		length int
		want   string
	}{
		{"html truncated", &Email{HTML: "<p>Hello <b>there</b> world</p>"}, 8, "Hello th…"},
		{"html fits", &Email{HTML: "<p>Hello <b>there</b></p>"}, 50, "Hello there"},
		{"text truncated", &Email{Text: "one two three"}, 7, "one two…"},
		{"trailing space trimmed", &Email{Text: "one two three"}, 4, "one…"},
		{"multibyte", &Email{Text: "ééééé"}, 3, "ééé…"},
		{"no limit", &Email{Text: "one\n\ntwo"}, 0, "one two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := BuildEntry(EntryParams{
				Identity:      testIdentity,
				Email:         tt.email,
				MessageKey:    "k",
				Now:           testTime,
				Summary:       SummaryExcerpt,
				ExcerptLength: tt.length,
			})
			assert.Equal(t, tt.want, entry.Summary)
		})
	}
}
