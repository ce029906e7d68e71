package guard

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"mailguard/pkg/domain"
)

const (
	openMarker  = "<email>"
	closeMarker = "</email>"
)

// markerPattern matches spotlight markers regardless of case or inner spacing.
var markerPattern = regexp.MustCompile(`(?i)<\s*/?\s*email\s*>`)

// FilterDelimiters neutralizes literal spotlight markers inside documents so
// an attacker cannot forge the boundary. The input slice is not modified.
func FilterDelimiters(docs []string, mode domain.DelimiterMode) []string {
	out := make([]string, len(docs))
	for i, doc := range docs {
		switch mode {
		case domain.DelimiterRemove:
			out[i] = strings.TrimSpace(removeMarkers(doc))
		case domain.DelimiterEscape:
			out[i] = markerPattern.ReplaceAllStringFunc(doc, html.EscapeString)
		default:
			out[i] = doc
		}
	}
	return out
}

// removeMarkers repeats until no marker is left, since removing one can join
// its neighbours into a new marker.
func removeMarkers(s string) string {
	for {
		next := markerPattern.ReplaceAllString(s, "")
		if next == s {
			return s
		}
		s = next
	}
}

// FormatDocuments joins documents with a blank line, wrapping each one in
// spotlight markers when spotlight is set.
func FormatDocuments(docs []string, spotlight bool) string {
	if !spotlight {
		return strings.Join(docs, "\n\n")
	}
	wrapped := make([]string, len(docs))
	for i, doc := range docs {
		wrapped[i] = openMarker + "\n" + doc + "\n" + closeMarker
	}
	return strings.Join(wrapped, "\n\n")
}
