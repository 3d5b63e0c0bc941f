// Package content decides whether fetched HTML is worth keeping and
// normalizes accepted pages to Markdown.
//
// The acceptance test drives tier escalation in fetchtier: a page that
// fails it (SPA shell, block page, empty body) is retried on the next,
// more capable tier.
package content

import (
	"bytes"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MinContentLength is the default minimum visible-text length for a page
// to pass the acceptance test.
const MinContentLength = 200

// spaShells are markers of JavaScript-only pages that render nothing
// without a browser.
var spaShells = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	`<noscript>you need to enable javascript`,
	`<noscript>enable javascript`,
}

// Sufficient reports whether the HTML body carries at least minLen bytes
// of visible text and does not look like an SPA shell. minLen <= 0 uses
// MinContentLength.
func Sufficient(body []byte, minLen int) bool {
	if minLen <= 0 {
		minLen = MinContentLength
	}
	if len(body) < minLen {
		return false
	}

	lower := bytes.ToLower(body)
	for _, marker := range spaShells {
		if bytes.Contains(lower, []byte(marker)) {
			return false
		}
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return visibleTextLen(doc) >= minLen
}

// visibleTextLen counts non-whitespace text bytes outside script/style.
func visibleTextLen(n *html.Node) int {
	if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Noscript) {
		return 0
	}
	total := 0
	if n.Type == html.TextNode {
		for _, r := range n.Data {
			if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
				total++
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		total += visibleTextLen(c)
	}
	return total
}

// Title extracts the <title> text, or "" if none.
func Title(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return findTitle(doc)
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// Normalizer sanitizes HTML and converts it to Markdown. Safe for
// concurrent use.
type Normalizer struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
	mu     sync.Mutex
}

// NewNormalizer creates a Normalizer with a UGC sanitization policy and a
// CommonMark converter with table support.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown sanitizes the HTML and converts it to Markdown. If conversion
// fails or produces empty output, returns the sanitized text as-is.
func (n *Normalizer) Markdown(body []byte, sourceURL string) string {
	clean := n.policy.SanitizeBytes(body)

	n.mu.Lock()
	out, err := n.conv.ConvertString(string(clean), converter.WithDomain(sourceURL))
	n.mu.Unlock()
	if err != nil || strings.TrimSpace(out) == "" {
		return strings.TrimSpace(string(clean))
	}
	return strings.TrimSpace(out)
}
