package markdown

import (
	"strings"
	"testing"
)

func TestRenderBlocks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty input",
			input: "   \n ",
			want:  "",
		},
		{
			name:  "paragraph",
			input: "hello world",
			want:  "<p>hello world</p>",
		},
		{
			name:  "paragraph lines joined with break",
			input: "line one\nline two",
			want:  "<p>line one<br>line two</p>",
		},
		{
			name:  "headings level 1 to 3",
			input: "# Title\n## Sub\n### Deep",
			want:  "<h1>Title</h1><h2>Sub</h2><h3>Deep</h3>",
		},
		{
			name:  "four hashes is a paragraph",
			input: "#### not a heading",
			want:  "<p>#### not a heading</p>",
		},
		{
			name:  "bullet run greedy",
			input: "- one\n- two\n* three\nafter",
			want:  "<ul><li>one</li><li>two</li><li>three</li></ul><p>after</p>",
		},
		{
			name:  "heading terminates paragraph",
			input: "before\n# head",
			want:  "<p>before</p><h1>head</h1>",
		},
		{
			name:  "code fence with language tag",
			input: "```go\nfmt.Println(\"hi\")\n```",
			want:  "<pre><code class=\"language-go\">fmt.Println(&#34;hi&#34;)</code></pre>",
		},
		{
			name:  "code fence without language",
			input: "```\nplain <text>\n```",
			want:  "<pre><code>plain &lt;text&gt;</code></pre>",
		},
		{
			name:  "unicode bullet and dash normalized",
			input: "• first\n– second",
			want:  "<ul><li>first</li><li>second</li></ul>",
		},
		{
			name:  "escaping before inline formatting",
			input: "a < b & c > d",
			want:  "<p>a &lt; b &amp; c &gt; d</p>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.input); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestInlineFormatting(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "inline code",
			input: "run `go test` now",
			want:  "<p>run <code>go test</code> now</p>",
		},
		{
			name:  "markdown link",
			input: "see [docs](https://example.com/a)",
			want:  `<p>see <a href="https://example.com/a">docs</a></p>`,
		},
		{
			name:  "bare url",
			input: "visit https://example.com today",
			want:  `<p>visit <a href="https://example.com">https://example.com</a> today</p>`,
		},
		{
			name:  "bold then italic",
			input: "**strong** and *soft*",
			want:  "<p><strong>strong</strong> and <em>soft</em></p>",
		},
		{
			name:  "bold inside list item",
			input: "- **key**: value",
			want:  "<ul><li><strong>key</strong>: value</li></ul>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.input); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRenderDeterministic(t *testing.T) {
	input := "# T\ntext **b**\n```go\ncode\n```\n- a\n- b"
	first := Render(input)
	for i := 0; i < 5; i++ {
		if got := Render(input); got != first {
			t.Fatalf("run %d differs: %q vs %q", i, got, first)
		}
	}
}

// Rendering every growing prefix must be safe: an unterminated fence shows
// as a code block and never corrupts the next render.
func TestRenderRestartableOnGrowingText(t *testing.T) {
	full := "intro\n```go\nfmt.Println(1)\n```\ndone"
	for i := 1; i <= len(full); i++ {
		_ = Render(full[:i]) // must not panic at any prefix
	}

	final := Render(full)
	if !strings.Contains(final, `<pre><code class="language-go">fmt.Println(1)</code></pre>`) {
		t.Errorf("final render missing code block: %q", final)
	}
	if strings.Count(final, "<pre>") != 1 {
		t.Errorf("duplicated code blocks: %q", final)
	}

	// A prefix ending inside the fence renders the partial body as code.
	mid := Render("intro\n```go\nfmt.Pri")
	if !strings.Contains(mid, "<pre><code") {
		t.Errorf("open fence not rendered as code: %q", mid)
	}
}
