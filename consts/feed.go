package consts

const (
	AtomNamespace = "http://www.w3.org/2005/Atom"

	RelAlternate = "alternate"
	RelSelf      = "self"

	MimeHTML = "text/html"
	MimeText = "text/plain"
	MimeAtom = "application/atom+xml"

	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeAtom = "application/atom+xml; charset=utf-8"

	// Mailing list headers carrying canonical links (Substack and most list managers).
	HeaderListURL  = "List-URL"
	HeaderListPost = "List-Post"

	FaviconService = "https://s2.googleusercontent.com/s2/favicons"
)
