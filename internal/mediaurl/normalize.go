// Package mediaurl normalizes media source URLs to a canonical form so that
// different spellings of the same resource share one dedup key.
package mediaurl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	youtubeRe  = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.|m\.)?(?:youtube\.com/watch\?.*?v=|youtu\.be/)([a-zA-Z0-9_-]{11})`)
	vimeoRe    = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?vimeo\.com/(\d+)`)
	statusRe   = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?(x\.com|twitter\.com)/(\w+)/status/(\d+)`)
	mediaExtRe = regexp.MustCompile(`(?i)\.(mp4|mkv|webm|avi|mov|flv|wmv|m4v|mp3|m4a|ogg|wav)$`)
)

// Normalize returns the canonical form of a media URL. Known platforms are
// rewritten to a single canonical spelling; other URLs keep their path and
// query but lose fragments and gain a lowercased host.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}

	if m := youtubeRe.FindStringSubmatch(raw); m != nil {
		return "https://www.youtube.com/watch?v=" + m[1], nil
	}
	if m := vimeoRe.FindStringSubmatch(raw); m != nil {
		return "https://vimeo.com/" + m[1], nil
	}
	if m := statusRe.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf("https://x.com/%s/status/%s", m[2], m[3]), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL has no host: %q", raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

// IsDirectMedia reports whether the URL path points at a media file directly,
// as opposed to a page the downloader must extract from.
func IsDirectMedia(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return mediaExtRe.MatchString(u.Path)
}
