// Package segment decides which pieces of page text are worth translating and
// how they are grouped into schedulable units.
//
// Page content is grouped at paragraph granularity to keep the number of API
// requests low. Paragraphs longer than the configured ceiling are split along
// sentence boundaries, and a single sentence that is still too long is cut
// into fixed-size windows, so no request ever exceeds the ceiling.
package segment

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults for paragraph sizing (in runes).
const (
	DefaultMaxParagraphLength = 1500
	DefaultMinParagraphLength = 10
)

// minAlnum is the minimum number of letters and digits a text needs to be
// worth a request.
const minAlnum = 5

var (
	// pureNumeric matches digits with spaces and common separators only
	// ("12 345", "2024-01-05", "3.14 %").
	pureNumeric = regexp.MustCompile(`^[\d\s.,:;/\\\-+%()#]+$`)

	// wordChar matches any letter, digit or underscore in any script.
	wordChar = regexp.MustCompile(`[\p{L}\p{N}_]`)
)

// ShouldTranslate reports whether text is worth sending to the translator.
//
// It rejects text shorter than minLength runes (after trimming), text with
// fewer than five letters and digits, pure numbers and pure symbols.
func ShouldTranslate(text string, minLength int) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minLength {
		return false
	}
	if alnumCount(trimmed) < minAlnum {
		return false
	}
	if pureNumeric.MatchString(trimmed) {
		return false
	}
	if !wordChar.MatchString(trimmed) {
		return false
	}
	return true
}

func alnumCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// Chunk splits text into ordered segments of at most maxLength runes.
//
// Text that already fits is returned unchanged as a single segment. Longer
// text is split after sentence-terminal punctuation followed by whitespace,
// and sentences are greedily packed (joined by a single space) while the
// running segment fits. A sentence longer than maxLength is cut into
// fixed-size windows. Segments are trimmed and empty ones dropped; the order
// always follows the source text.
//
// A non-positive maxLength disables splitting.
func Chunk(text string, maxLength int) []string {
	if maxLength <= 0 || utf8.RuneCountInString(text) <= maxLength {
		return []string{text}
	}

	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, sentence := range splitSentences(text) {
		n := utf8.RuneCountInString(sentence)
		if n > maxLength {
			flush()
			for _, w := range windows(sentence, maxLength) {
				if w = strings.TrimSpace(w); w != "" {
					out = append(out, w)
				}
			}
			continue
		}
		if curLen > 0 && curLen+1+n > maxLength {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(sentence)
		curLen += n
	}
	flush()

	return out
}

// splitSentences cuts text after '.', '!' or '?' when followed by
// whitespace. Returned sentences are trimmed and never empty.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// windows cuts s into consecutive pieces of size runes; the last piece may
// be shorter.
func windows(s string, size int) []string {
	runes := []rune(s)
	pieces := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		pieces = append(pieces, string(runes[i:end]))
	}
	return pieces
}
