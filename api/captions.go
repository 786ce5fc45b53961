package api

import (
	"regexp"
	"strings"
)

var srtTimestamp = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}),(\d{3})`)

// SRTToVTT rewrites SubRip timestamps to the period-decimal form WebVTT players expect.
func SRTToVTT(srt string) string {
	text := strings.TrimPrefix(srt, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = srtTimestamp.ReplaceAllString(text, "$1.$2")
	if !strings.HasPrefix(text, "WEBVTT") {
		text = "WEBVTT\n\n" + text
	}
	return text
}
