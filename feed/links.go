package feed

import (
	"net/url"

	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/helpers"
)

// ResolveFeedLinks returns the feed's alternate link followed by its self
// link. The alternate link comes from the List-URL header when present and
// defaults to the sender's domain. The self link always points at the
// published document.
func ResolveFeedLinks(bucketDomain, feedKey, senderDomain string, headers Headers) []Link {
	alternate := "https://" + senderDomain
	if listURL := helpers.SanitizeField(headers.Get(consts.HeaderListURL)); listURL != "" {
		alternate = listURL
	}
	return []Link{
		{Href: alternate, Rel: consts.RelAlternate, Type: consts.MimeHTML},
		{Href: PublicURL(bucketDomain, feedKey), Rel: consts.RelSelf, Type: consts.MimeAtom},
	}
}

// ResolveEntryLinks returns the entry link from the List-Post header, or nil
// when the message carries none and a companion page is needed.
func ResolveEntryLinks(headers Headers) []Link {
	post := helpers.SanitizeField(headers.Get(consts.HeaderListPost))
	if post == "" {
		return nil
	}
	return []Link{{Href: post, Rel: consts.RelAlternate, Type: consts.MimeHTML}}
}

// IconURLs returns 32px and 128px favicon URLs for the host of feedLink.
// Both are empty when no host can be parsed.
func IconURLs(feedLink string) (icon, logo string) {
	u, err := url.Parse(feedLink)
	if err != nil || u.Hostname() == "" {
		return "", ""
	}
	favicon := func(size string) string {
		q := url.Values{}
		q.Set("domain", u.Hostname())
		q.Set("sz", size)
		return consts.FaviconService + "?" + q.Encode()
	}
	return favicon("32"), favicon("128")
}

// PublicURL is the https URL at which the bucket serves key.
func PublicURL(bucketDomain, key string) string {
	return "https://" + bucketDomain + "/" + key
}
