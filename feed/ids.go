package feed

import (
	"fmt"
	"strings"

	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/helpers"
)

// SenderIdentity identifies the feed a message belongs to. LocalPart has any
// "+tag" detail removed so that tagged addresses share one feed.
type SenderIdentity struct {
	LocalPart string
	Domain    string
	Name      string // display name, may be empty
	Address   string // address as it appeared in From
}

// NewSenderIdentity derives the identity from a From address.
func NewSenderIdentity(from Address) (SenderIdentity, error) {
	addr := strings.TrimSpace(from.Address)
	if addr == "" {
		return SenderIdentity{}, consts.ErrMissingSender
	}
	local, domain := helpers.SplitEmailAddress(addr)
	local = helpers.BaseLocalPart(local)
	if local == "" || domain == "" {
		return SenderIdentity{}, fmt.Errorf("%w: invalid address '%s'", consts.ErrMissingSender, addr)
	}
	return SenderIdentity{
		LocalPart: local,
		Domain:    domain,
		Name:      strings.TrimSpace(from.Name),
		Address:   addr,
	}, nil
}

// DisplayName returns the sender's name, falling back to the address.
func (s SenderIdentity) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Address
}

func urn(namespace, id string) string {
	return "urn:" + helpers.SanitizeID(namespace) + ":" + helpers.SanitizeID(id)
}

// FeedID returns the feed URN for a sender. It depends on nothing else, so a
// rebuilt feed keeps its id.
func FeedID(domain, localPart string) string {
	return urn(domain, localPart)
}

// EntryID returns the entry URN for a message. Re-delivery of the same
// message yields the same id.
func EntryID(domain, messageKey string) string {
	return urn(domain, messageKey)
}

// FeedKey is the storage key of the sender's feed document,
// e.g. "sender-domain-com.xml".
func FeedKey(id SenderIdentity) string {
	return helpers.SanitizeID(id.LocalPart+"@"+id.Domain) + ".xml"
}

// CompanionKey is the storage key of the companion page for entry,
// e.g. "domain.com/sender/message-id.html". The message key is the last
// segment of the entry id.
func CompanionKey(id SenderIdentity, entry Entry) string {
	messageKey := entry.ID
	if i := strings.LastIndex(messageKey, ":"); i >= 0 {
		messageKey = messageKey[i+1:]
	}
	ext := "txt"
	if entry.Content != nil && entry.Content.Kind == ContentHTML {
		ext = "html"
	}
	return helpers.NewS3Key(id.Domain, id.LocalPart, messageKey+"."+ext)
}

// StoredCompanionKey recovers the companion key of an existing entry from its
// alternate link. It reports false when the link points outside the bucket.
func StoredCompanionKey(bucketDomain string, entry Entry) (string, bool) {
	prefix := PublicURL(bucketDomain, "")
	for _, link := range entry.Links {
		if link.Rel != "" && link.Rel != consts.RelAlternate {
			continue
		}
		key, ok := strings.CutPrefix(link.Href, prefix)
		if !ok || key == "" {
			continue
		}
		if i := strings.IndexAny(key, "?#"); i >= 0 {
			key = key[:i]
		}
		return key, key != ""
	}
	return "", false
}

// MessageKey returns the per-message identifier used in the entry id: the
// Message-ID without its angle brackets, or a BLAKE3 digest of the raw
// message when there is none.
func MessageKey(email *Email) string {
	if key := helpers.SanitizeField(email.MessageID); key != "" {
		return key
	}
	if len(email.Raw) > 0 {
		return helpers.HashContent(email.Raw)
	}
	body, _ := email.Body()
	return helpers.HashContent([]byte(email.Subject + "\x00" + body))
}
