// Package i18n holds the catalogs for mclokit's own messages (log lines,
// errors, command output). The catalogs under locales/ are embedded gettext
// files for the "mclokit" domain.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const domain = "mclokit"

// EnvLang selects the interface language ahead of the gettext variables.
const EnvLang = "MCLOKIT_LANG"

var (
	po   *gotext.Locale
	lang string
)

// Init selects the catalog for l, which may be spelled zh_CN, zh_cn,
// zh-CN or zh_CN.UTF-8. An empty l is read from the environment.
func Init(l string) {
	if l == "" {
		l = detectLanguage()
	}
	lang = catalogName(l)

	po = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// Lang returns the catalog name chosen by Init.
func Lang() string {
	return lang
}

// Available lists the embedded catalogs plus the built-in English.
func Available() []string {
	out := []string{"en"}
	entries, err := fs.ReadDir(locales, "locales")
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out[1:])
	return out
}

// T returns the translation of msgid, or msgid itself.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// Tf translates format and applies args to the result.
func Tf(format string, args ...any) string {
	return fmt.Sprintf(T(format), args...)
}

// N picks the plural form of a message for n.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// catalogName strips encoding and modifier suffixes and spells the region
// the way catalog directories are named: lower-case language, upper-case
// region.
func catalogName(l string) string {
	if i := strings.IndexAny(l, ".@"); i >= 0 {
		l = l[:i]
	}
	l = strings.ReplaceAll(strings.TrimSpace(l), "-", "_")
	base, region, ok := strings.Cut(l, "_")
	if !ok {
		return strings.ToLower(base)
	}
	return strings.ToLower(base) + "_" + strings.ToUpper(region)
}

// detectLanguage consults MCLOKIT_LANG, then the gettext variables in GNU
// order. LANGUAGE may hold a colon-separated list; its first entry counts.
func detectLanguage() string {
	for _, env := range []string{EnvLang, "LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val, _, _ := strings.Cut(os.Getenv(env), ":")
		val = catalogName(val)
		switch val {
		case "", "c", "posix":
			continue
		}
		return val
	}
	return "en"
}
