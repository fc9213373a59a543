package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a real PNG for http.DetectContentType.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestSnifferAcceptsMedia(t *testing.T) {
	t.Parallel()

	s := ContentSniffer{RejectHTML: true}
	require.NoError(t, s.Check("image/png", pngHeader))
	require.NoError(t, s.Check("", pngHeader))
}

func TestSnifferRejectsHTML(t *testing.T) {
	t.Parallel()

	s := ContentSniffer{RejectHTML: true}

	err := s.Check("text/html; charset=utf-8", []byte("<html><body>nope</body></html>"))
	require.ErrorIs(t, err, ErrContentMismatch)

	// Declared type lies, sniffed body tells the truth.
	err = s.Check("image/jpeg", []byte("<!DOCTYPE html><html><head><title>Not Found</title></head></html>"))
	require.ErrorIs(t, err, ErrContentMismatch)
	require.Contains(t, err.Error(), "Not Found")
}

func TestSnifferHTMLAllowedWhenConfigured(t *testing.T) {
	t.Parallel()

	s := ContentSniffer{RejectHTML: false}
	require.NoError(t, s.Check("text/html", []byte("<html></html>")))
}

func TestSnifferMinBytes(t *testing.T) {
	t.Parallel()

	s := ContentSniffer{MinBytes: 32}
	err := s.Check("image/png", pngHeader[:8])
	require.ErrorIs(t, err, ErrContentMismatch)
}
