package pipeline

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ContentSniffer decides whether a 2xx response body is really media. Some
// sources serve an HTML error page with status 200; whether that counts as a
// rejection is configurable because the upstream behavior is ambiguous.
type ContentSniffer struct {
	// RejectHTML treats an HTML body where media was expected as a terminal
	// content mismatch. When false the body is accepted as-is.
	RejectHTML bool

	// MinBytes rejects bodies smaller than this as placeholders.
	MinBytes int
}

// Check classifies the response body. A nil return means the body is
// acceptable media content.
func (s ContentSniffer) Check(declared string, body []byte) error {
	if s.MinBytes > 0 && len(body) < s.MinBytes {
		return fmt.Errorf("%w: body %d bytes below minimum %d", ErrContentMismatch, len(body), s.MinBytes)
	}
	if !s.RejectHTML {
		return nil
	}
	if !isHTML(declared, body) {
		return nil
	}
	title := htmlTitle(body)
	if title == "" {
		return fmt.Errorf("%w: HTML body where media expected", ErrContentMismatch)
	}
	return fmt.Errorf("%w: HTML page %q where media expected", ErrContentMismatch, title)
}

func isHTML(declared string, body []byte) bool {
	if strings.Contains(strings.ToLower(declared), "text/html") {
		return true
	}
	return strings.Contains(http.DetectContentType(body), "text/html")
}

// htmlTitle extracts the page title for the diagnostic message.
func htmlTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
