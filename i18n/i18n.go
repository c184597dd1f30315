// Package i18n translates the user-facing messages of the doctrans CLI.
//
// Catalogs are embedded from locales/{lang}/LC_MESSAGES/doctrans.po and
// picked by matching the requested locale against the languages that ship
// a catalog, so "de_AT.UTF-8" uses the German messages. Until Init is
// called, or when nothing matches, T and N return their input.
package i18n

import (
	"embed"
	"io/fs"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
	"golang.org/x/text/language"
)

//go:embed all:locales
var locales embed.FS

const domain = "doctrans"

// EnvLang overrides the locale environment for doctrans messages only.
const EnvLang = "DOCTRANS_LANG"

var po *gotext.Locale

// Init loads the catalog that best matches lang. An empty lang is taken
// from DOCTRANS_LANG, then the gettext variables.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}
	po = nil
	dir, ok := match(lang)
	if !ok {
		return
	}
	po = gotext.NewLocaleFSWithPath(dir, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// match maps a locale name onto an embedded catalog directory. English is
// the source language and never has a catalog.
func match(lang string) (string, bool) {
	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil {
		return "", false
	}
	dirs := []string{"en"}
	tags := []language.Tag{language.English}
	for _, d := range catalogs() {
		t, err := language.Parse(d)
		if err != nil {
			continue
		}
		dirs = append(dirs, d)
		tags = append(tags, t)
	}
	_, idx, conf := language.NewMatcher(tags).Match(tag)
	if conf == language.No || idx == 0 {
		return "", false
	}
	return dirs[idx], true
}

func catalogs() []string {
	entries, err := fs.ReadDir(locales, "locales")
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

// T translates msgid, passing it through when there is no translation.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N translates a message with plural forms using the catalog's formula.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// detectLanguage follows GNU gettext priority after DOCTRANS_LANG:
// LANGUAGE > LC_ALL > LC_MESSAGES > LANG.
func detectLanguage() string {
	for _, env := range []string{EnvLang, "LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if env == "LANGUAGE" {
			val, _, _ = strings.Cut(val, ":")
		}
		if i := strings.IndexByte(val, '.'); i >= 0 {
			val = val[:i]
		}
		if val == "" || val == "C" || val == "POSIX" {
			continue
		}
		return val
	}
	return "en"
}
