package segment

import (
	"crypto/md5"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of text used for identity: Unicode
// NFC, surrounding whitespace trimmed and inner whitespace runs collapsed to
// a single space. Case is preserved.
func Normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// Key returns a stable identity for text. Texts that differ only in
// whitespace layout or Unicode composition share a key, so content that is
// rediscovered (for example after a re-scan of the page) maps to the same
// work item.
func Key(text string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(Normalize(text))))
}
