package pipeline

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// resolutionSuffix matches CDN-style size variants in the filename, e.g.
// photo_1280x720.jpg, photo-640w.jpg, photo@2x.jpg.
var resolutionSuffix = regexp.MustCompile(`(?i)(?:[_-]\d{2,5}x\d{2,5}|[_-]\d{2,5}w|@\dx)$`)

// trackingParams are query parameters that never identify content.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "ref": {}, "fbclid": {}, "gclid": {}, "igshid": {},
}

// Fingerprint derives a stable, content-addressable key from a locator. Two
// locators that differ only in tracking parameters, parameter order, default
// ports, fragments, or resolution suffixes fingerprint identically.
func Fingerprint(rawURL string) (string, error) {
	canonical, err := NormalizeLocator(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeLocator standardizes a locator so superficial variants collapse.
func NormalizeLocator(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse locator: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("locator %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.Path = stripResolutionVariant(u.Path)

	q := u.Query()
	for k := range q {
		if _, tracked := trackingParams[strings.ToLower(k)]; tracked {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode() // Encode sorts keys

	return u.String(), nil
}

func stripResolutionVariant(p string) string {
	ext := path.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	return resolutionSuffix.ReplaceAllString(stem, "") + ext
}

// InferKind guesses the content kind from the locator's file extension.
func InferKind(rawURL string) ContentKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindUnknown
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".avif":
		return KindImage
	case ".mp4", ".webm", ".mov", ".m4v", ".ts":
		return KindVideo
	default:
		return KindUnknown
	}
}
