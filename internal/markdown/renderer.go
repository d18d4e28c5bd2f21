// Package markdown converts streamed agent text into an HTML-like block
// string. Render is pure and stateless: it is re-invoked on the entire
// accumulated text after every append, so identical input must always yield
// identical output and a mid-stream call must never leave dangling state
// behind for the next one.
package markdown

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,3})\s+(.*)$`)
	bulletRe   = regexp.MustCompile(`^[-*]\s+(.*)$`)
	langTagRe  = regexp.MustCompile(`^[A-Za-z0-9+#-]+$`)
	codeSpanRe = regexp.MustCompile("`([^`]+)`")
	linkRe     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)
	bareURLRe  = regexp.MustCompile(`(^|\s)(https?://[^\s<]+)`)
	boldRe     = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe   = regexp.MustCompile(`\*([^*]+)\*`)
)

// punctuation look-alikes models tend to emit instead of the ASCII forms
// the parser keys on.
var normalizer = strings.NewReplacer(
	" ", " ", // non-breaking space
	"–", "-", // en dash
	"—", "-", // em dash
	"−", "-", // minus sign
	"‐", "-", // hyphen
	"•", "-", // bullet
	"∗", "*", // asterisk operator
)

// Render converts markdown-ish text to an HTML-like block string. Segments
// between triple-backtick fences alternate prose and code; an unterminated
// trailing fence renders as a code block, which keeps mid-stream output
// stable as more text arrives.
func Render(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	text = normalizer.Replace(strings.ReplaceAll(text, "\r\n", "\n"))

	var out strings.Builder
	for i, segment := range strings.Split(text, "```") {
		if i%2 == 1 {
			out.WriteString(renderCode(segment))
			continue
		}
		renderProse(&out, segment)
	}
	return out.String()
}

// renderCode emits one fenced block. An optional language tag on the first
// line is recognized and stripped.
func renderCode(segment string) string {
	lang := ""
	body := segment
	if first, rest, ok := strings.Cut(segment, "\n"); ok && langTagRe.MatchString(strings.TrimSpace(first)) {
		lang = strings.TrimSpace(first)
		body = rest
	}
	body = strings.Trim(body, "\n")
	if lang != "" {
		return fmt.Sprintf(`<pre><code class="language-%s">%s</code></pre>`, lang, html.EscapeString(body))
	}
	return fmt.Sprintf(`<pre><code>%s</code></pre>`, html.EscapeString(body))
}

// renderProse scans a non-code segment line by line: headings first, then
// greedy bullet runs, then greedy paragraphs.
func renderProse(out *strings.Builder, segment string) {
	lines := strings.Split(segment, "\n")
	for i := 0; i < len(lines); {
		line := strings.TrimRight(lines[i], " \t")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			i++
			continue
		}

		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			level := len(m[1])
			fmt.Fprintf(out, "<h%d>%s</h%d>", level, inline(m[2]), level)
			i++
			continue
		}

		if bulletRe.MatchString(trimmed) {
			out.WriteString("<ul>")
			for i < len(lines) {
				m := bulletRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
				if m == nil {
					break
				}
				fmt.Fprintf(out, "<li>%s</li>", inline(m[1]))
				i++
			}
			out.WriteString("</ul>")
			continue
		}

		// Paragraph: consume until a blank line or the start of a heading
		// or list, joining lines with a break marker.
		var para []string
		for i < len(lines) {
			t := strings.TrimSpace(lines[i])
			if t == "" || headingRe.MatchString(t) || bulletRe.MatchString(t) {
				break
			}
			para = append(para, inline(t))
			i++
		}
		fmt.Fprintf(out, "<p>%s</p>", strings.Join(para, "<br>"))
	}
}

// inline escapes the text and applies inline formatting in a fixed order so
// the rewrites cannot feed each other: code spans, links, bare URLs, bold,
// italic.
func inline(text string) string {
	text = html.EscapeString(text)
	text = codeSpanRe.ReplaceAllString(text, "<code>$1</code>")
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = bareURLRe.ReplaceAllString(text, `$1<a href="$2">$2</a>`)
	text = boldRe.ReplaceAllString(text, "<strong>$1</strong>")
	text = italicRe.ReplaceAllString(text, "<em>$1</em>")
	return text
}
