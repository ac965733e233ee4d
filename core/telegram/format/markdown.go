package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MarkdownV1 denotes Telegram legacy Markdown.
	MarkdownV1 = 1
	// MarkdownV2 denotes Telegram MarkdownV2.
	MarkdownV2 = 2
)

const mdV2Specials = "_*[]()~`>#+-=|{}.!\\"

var (
	mdV1Re = regexp.MustCompile("([_*`\\[])")
	mdV2Re = regexp.MustCompile("([" + regexp.QuoteMeta(mdV2Specials) + "])")
)

// EscapeMarkdown escapes user-supplied text for the given Markdown version.
func EscapeMarkdown(text string, version int) (string, error) {
	switch version {
	case MarkdownV1:
		return mdV1Re.ReplaceAllString(text, `\$1`), nil
	case MarkdownV2:
		return mdV2Re.ReplaceAllString(text, `\$1`), nil
	}
	return "", fmt.Errorf("unsupported markdown version: %d", version)
}

// MD escapes text for legacy Markdown, the parse mode the bot replies with.
func MD(text string) string {
	out, _ := EscapeMarkdown(text, MarkdownV1)
	return out
}

// Amount renders a decimal amount without trailing zeros, e.g. 10, 10.5, 0.000001.
func Amount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
