package notifier

import (
	"strconv"
	"strings"
)

// FormatReport renders the chat message for r (Markdown parse mode).
func FormatReport(r Report) string {
	var b strings.Builder
	b.WriteString("✅ 🌟 OPEN LOOP AUTO BOT🌟 ✅\n\n")
	b.WriteString("👤 Email: ")
	b.WriteString(escapeMarkdown(r.Identity))
	b.WriteString("\n\n💰 Score: ")
	b.WriteString(strconv.Itoa(r.Quality))
	b.WriteString("\n\n📢 Total Earnings: ")
	b.WriteString(FormatBalance(r.Balance))
	b.WriteString("\n\n🛠 Proxy Used: ")
	b.WriteString(escapeMarkdown(r.Proxy))
	return b.String()
}

// FormatBalance prints a balance without trailing zeros ("42", "12.5").
func FormatBalance(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// markdownEscaper backslash-escapes the legacy Markdown entity markers, so
// values like "john_doe@x.com" cannot leave an entity open.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
