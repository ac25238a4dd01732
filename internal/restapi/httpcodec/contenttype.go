package httpcodec

// ContentType is the small fixed set of MIME types the codec distinguishes.
// Anything else recognized on the wire but not in this set becomes Unknown;
// a request with no Content-Type header at all is Undefined.
type ContentType int

const (
	ContentTypeUndefined ContentType = iota
	ContentTypeUnknown
	ContentTypeJSON
	ContentTypeXML
	ContentTypeHTML
	ContentTypePlain
	ContentTypeCSS
	ContentTypeJS
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeJSON:
		return "application/json"
	case ContentTypeXML:
		return "application/xml"
	case ContentTypeHTML:
		return "application/html"
	case ContentTypePlain:
		return "text/plain"
	case ContentTypeCSS:
		return "text/css"
	case ContentTypeJS:
		return "application/javascript"
	case ContentTypeUnknown:
		return "unknown"
	default:
		return "undefined"
	}
}

// ParseContentType recognizes the core MIME strings plus the extra
// wire-common ones; anything else is Unknown, and an empty header is
// Undefined.
func ParseContentType(value string) ContentType {
	switch value {
	case "":
		return ContentTypeUndefined
	case "application/html":
		return ContentTypeHTML
	case "application/json":
		return ContentTypeJSON
	case "application/xml":
		return ContentTypeXML
	case "text/plain":
		return ContentTypePlain
	case "text/css":
		return ContentTypeCSS
	case "application/javascript", "text/javascript":
		return ContentTypeJS
	default:
		return ContentTypeUnknown
	}
}
