package main

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/ashureev/agentview/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("81"))

	codeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("236"))

	codeBlockStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Underline(true)

	traceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

var (
	preRe        = regexp.MustCompile(`(?s)<pre><code(?: class="language-([^"]*)")?>(.*?)</code></pre>`)
	headingTagRe = regexp.MustCompile(`(?s)<h([1-3])>(.*?)</h[1-3]>`)
	listRe       = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	itemRe       = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	paraRe       = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	codeRe       = regexp.MustCompile(`<code>([^<]*)</code>`)
	anchorRe     = regexp.MustCompile(`<a href="([^"]*)">([^<]*)</a>`)
	strongRe     = regexp.MustCompile(`(?s)<strong>(.*?)</strong>`)
	emTagRe      = regexp.MustCompile(`(?s)<em>(.*?)</em>`)
)

// renderTerminal maps the renderer's block string onto styled terminal
// text. The tag vocabulary is the closed set the renderer emits.
func renderTerminal(blocks string) string {
	out := preRe.ReplaceAllStringFunc(blocks, func(m string) string {
		sub := preRe.FindStringSubmatch(m)
		body := html.UnescapeString(sub[2])
		block := codeBlockStyle.Render(body)
		if sub[1] != "" {
			return "\n" + traceStyle.Render(sub[1]) + "\n" + block + "\n"
		}
		return "\n" + block + "\n"
	})

	out = headingTagRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := headingTagRe.FindStringSubmatch(m)
		return "\n" + headingStyle.Render(sub[2]) + "\n"
	})
	out = listRe.ReplaceAllStringFunc(out, func(m string) string {
		items := itemRe.FindAllStringSubmatch(m, -1)
		var b strings.Builder
		for _, it := range items {
			b.WriteString("  • " + it[1] + "\n")
		}
		return b.String()
	})
	out = paraRe.ReplaceAllString(out, "$1\n")
	out = strings.ReplaceAll(out, "<br>", "\n")

	out = codeRe.ReplaceAllStringFunc(out, func(m string) string {
		return codeStyle.Render(codeRe.FindStringSubmatch(m)[1])
	})
	out = anchorRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := anchorRe.FindStringSubmatch(m)
		if sub[1] == sub[2] {
			return linkStyle.Render(sub[1])
		}
		return sub[2] + " " + linkStyle.Render("("+sub[1]+")")
	})
	out = strongRe.ReplaceAllStringFunc(out, func(m string) string {
		return lipgloss.NewStyle().Bold(true).Render(strongRe.FindStringSubmatch(m)[1])
	})
	out = emTagRe.ReplaceAllStringFunc(out, func(m string) string {
		return lipgloss.NewStyle().Italic(true).Render(emTagRe.FindStringSubmatch(m)[1])
	})

	return strings.TrimRight(html.UnescapeString(out), "\n")
}

// renderTrace summarizes what the agent did after a run settles.
func renderTrace(tr *domain.AgentTrace) string {
	if tr == nil {
		return ""
	}
	var b strings.Builder
	if tr.QueryAnalysis != nil && tr.QueryAnalysis.Performed {
		b.WriteString(traceStyle.Render("query analysis performed") + "\n")
	}
	for _, call := range tr.ToolCalls {
		line := call.Tool
		if call.Query != "" {
			line += fmt.Sprintf(" %q", call.Query)
		}
		if n := len(call.Sources); n > 0 {
			line += fmt.Sprintf(" (%d sources)", n)
		}
		b.WriteString(traceStyle.Render("⚙ "+line) + "\n")
	}
	return b.String()
}

// renderSources lists cited documents.
func renderSources(sources []domain.Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	for _, src := range sources {
		label := src.Title
		if label == "" {
			label = src.URL
		}
		b.WriteString("  " + linkStyle.Render(label) + "\n")
	}
	return b.String()
}
