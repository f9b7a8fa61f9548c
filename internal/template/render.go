package template

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

// MaxValueLength caps a single substituted variable, in runes.
const MaxValueLength = 1000

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	`*`, `\*`,
	`_`, `\_`,
	`[`, `\[`,
	`]`, `\]`,
	`(`, `\(`,
	`)`, `\)`,
	`#`, `\#`,
	`+`, `\+`,
	`-`, `\-`,
	`!`, `\!`,
	`|`, `\|`,
	`>`, `\>`,
	`~`, `\~`,
)

// Render substitutes {{name}} placeholders in pattern. Placeholders without a
// value are kept verbatim. Values are escaped for contentType and capped.
func Render(pattern string, vars map[string]string, contentType domain.ContentType) string {
	return placeholderPattern.ReplaceAllStringFunc(pattern, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		value, ok := vars[groups[1]]
		if !ok {
			return match
		}
		return escapeValue(truncate(value, MaxValueLength), contentType)
	})
}

func escapeValue(value string, contentType domain.ContentType) string {
	switch contentType {
	case domain.ContentTypeHTML:
		return html.EscapeString(value)
	case domain.ContentTypeMarkdown:
		return markdownEscaper.Replace(stripControl(value))
	case domain.ContentTypeStructured:
		encoded, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(encoded[1 : len(encoded)-1])
	default:
		return stripControl(value)
	}
}

// stripControl drops control characters other than newline and tab.
func stripControl(value string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
