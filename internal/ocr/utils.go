package ocr

import (
	"regexp"
	"strings"
)

var (
	reBoxNoise  = regexp.MustCompile(`(?m)^[\s|_\-=~]{4,}$`)
	reManySpace = regexp.MustCompile(`[ \t]{2,}`)
	reManyBlank = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans raw OCR output: strips line noise, collapses runs of
// whitespace, and trims the result. Line structure is preserved because the
// text parser and the validator both work line by line.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	s = reBoxNoise.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		ln = reManySpace.ReplaceAllString(ln, " ")
		lines[i] = strings.TrimSpace(ln)
	}
	s = strings.Join(lines, "\n")
	s = reManyBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
