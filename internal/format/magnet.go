package format

import (
	"net/url"
	"strings"
)

// InfoHash pulls the torrent hash out of a magnet URI's xt parameter:
// "magnet:?xt=urn:btih:<hash>&dn=..." yields "<hash>". It returns "" when the
// URI carries no xt.
func InfoHash(magnet string) string {
	_, rawQuery, found := strings.Cut(magnet, "?")
	if !found {
		return ""
	}

	// ParseQuery keeps every well-formed pair even if a later one is broken.
	values, _ := url.ParseQuery(rawQuery)
	xt := values.Get("xt")
	if xt == "" {
		return ""
	}

	if i := strings.LastIndex(xt, ":"); i >= 0 {
		return xt[i+1:]
	}
	return xt
}
