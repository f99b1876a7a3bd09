// Package langmeta resolves Minecraft locale codes (en_us, zh_cn, pt_br)
// into language tags and display metadata: English and native names and
// emoji flags, used in prompts and CLI output.
package langmeta

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes language display metadata.
type Meta struct {
	Locale  string
	Tag     language.Tag
	English string
	Native  string
	Flag    string
}

// Chinese is named by script rather than by base language.
var chineseNames = map[string]Meta{
	"Hans": {English: "Simplified Chinese", Native: "简体中文"},
	"Hant": {English: "Traditional Chinese", Native: "繁體中文"},
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Parse converts a locale code in either Minecraft (zh_cn) or BCP 47
// (zh-CN) form into a language tag.
func Parse(locale string) (language.Tag, error) {
	return language.Parse(canonicalize(locale))
}

// Known reports whether locale names a language x/text recognizes.
func Known(locale string) bool {
	_, err := Parse(locale)
	return err == nil
}

// MinecraftLocale renders a tag as a Minecraft lang file name stem:
// lower-case language and region joined by an underscore.
func MinecraftLocale(tag language.Tag) string {
	base, _ := tag.Base()
	region, conf := tag.Region()
	if conf == language.No {
		return base.String()
	}
	return strings.ToLower(base.String() + "_" + region.String())
}

// Resolve returns best-effort language metadata. Unknown codes are passed
// through as their own names.
func Resolve(locale string) Meta {
	tag, err := Parse(locale)
	if err != nil {
		return Meta{Locale: locale, English: locale, Native: locale}
	}
	m := Meta{Locale: locale, Tag: tag, Flag: flagFor(tag)}

	base, _ := tag.Base()
	if base.String() == "zh" {
		script, _ := tag.Script()
		if names, ok := chineseNames[script.String()]; ok {
			m.English, m.Native = names.English, names.Native
			return m
		}
	}

	baseTag := language.Make(base.String())
	m.English = display.English.Languages().Name(baseTag)
	m.Native = display.Self.Name(baseTag)
	if m.English == "" {
		m.English = locale
	}
	if m.Native == "" {
		m.Native = m.English
	}
	return m
}

// EnglishName returns the English language name for a locale code.
func EnglishName(locale string) string {
	return Resolve(locale).English
}

// flagFor builds the regional-indicator emoji for the tag's region.
func flagFor(tag language.Tag) string {
	region, conf := tag.Region()
	if conf == language.No {
		return ""
	}
	code := region.String()
	if len(code) != 2 {
		return ""
	}
	var b strings.Builder
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + (c - 'A'))
	}
	return b.String()
}
