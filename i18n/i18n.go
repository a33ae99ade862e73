// Package i18n translates pagetrans's own user-facing messages.
//
// Catalogs are gettext PO files embedded from locales/{lang}/LC_MESSAGES/
// pagetrans.po and loaded with gotext. A message without a translation is
// returned unchanged, so calling T before Init is safe.
//
// Usage:
//
//	i18n.Init("") // LANGUAGE, LC_ALL, LC_MESSAGES, LANG
//	logSuccess(i18n.T("Translation complete!"))
//	logInfo(i18n.Nf("%d segment translated", "%d segments translated", n, n))
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const domain = "pagetrans"

var (
	mu   sync.RWMutex
	po   *gotext.Locale
	lang = "en"
)

// Init loads the catalog for lang. An empty lang is detected from the
// environment the way GNU gettext does it. Variants fall back to the base
// language ("pt_BR" uses "pt" when there is no pt_BR catalog).
func Init(l string) {
	if l == "" {
		l = detectLanguage()
	}
	l = strings.ReplaceAll(l, "-", "_")

	loc := gotext.NewLocaleFSWithPath(l, locales, "locales")
	loc.AddDomain(domain)
	loc.SetDomain(domain)

	mu.Lock()
	po, lang = loc, l
	mu.Unlock()
}

// Language returns the language passed to (or detected by) Init.
func Language() string {
	mu.RLock()
	defer mu.RUnlock()
	return lang
}

// T translates msgid.
func T(msgid string) string {
	mu.RLock()
	loc := po
	mu.RUnlock()
	if loc == nil {
		return msgid
	}
	return loc.Get(msgid)
}

// Tf translates format and applies args to it.
func Tf(format string, args ...any) string {
	return fmt.Sprintf(T(format), args...)
}

// N translates a message with plural forms chosen by n.
func N(singular, plural string, n int) string {
	mu.RLock()
	loc := po
	mu.RUnlock()
	if loc == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return loc.GetN(singular, plural, n)
}

// Nf is N followed by fmt.Sprintf with args.
func Nf(singular, plural string, n int, args ...any) string {
	return fmt.Sprintf(N(singular, plural, n), args...)
}

// Available lists the languages with an embedded catalog.
func Available() []string {
	var out []string
	entries, err := fs.ReadDir(locales, "locales")
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := fs.Stat(locales, "locales/"+e.Name()+"/LC_MESSAGES/"+domain+".po"); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

// detectLanguage follows GNU gettext priority:
// LANGUAGE > LC_ALL > LC_MESSAGES > LANG.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if val == "" {
			continue
		}
		if env == "LANGUAGE" {
			val, _, _ = strings.Cut(val, ":")
		}
		// "ru_RU.UTF-8@latin" -> "ru_RU"
		if i := strings.IndexAny(val, ".@"); i >= 0 {
			val = val[:i]
		}
		if val == "C" || val == "POSIX" || val == "" {
			continue
		}
		return val
	}
	return "en"
}
