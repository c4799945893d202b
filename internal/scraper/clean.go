package scraper

import (
	"html"
	"regexp"
	"strings"
)

var (
	reNonText = regexp.MustCompile(`(?is)<(script|style|noscript|template|svg)\b.*?</(script|style|noscript|template|svg)\s*>`)
	reComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	reBlock   = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/h[1-6]|/li|/tr)\b[^>]*>`)
)

// StripTags is the last-resort extractor: it drops every tag and keeps the text.
func StripTags(raw string) string {
	raw = reNonText.ReplaceAllString(raw, " ")
	raw = reComment.ReplaceAllString(raw, " ")
	raw = reBlock.ReplaceAllString(raw, "\n")

	inTag := false
	var result strings.Builder
	for _, char := range raw {
		if char == '<' {
			inTag = true
		} else if char == '>' {
			inTag = false
		} else if !inTag {
			result.WriteRune(char)
		}
	}

	return normalizeWhitespace(html.UnescapeString(result.String()))
}

var junkPhrases = []string{
	"Subscribe to our newsletter",
	"Sign up for our newsletter",
	"Follow us on Twitter",
	"Follow us on X",
	"Share this article",
	"Read more:",
	"Related:",
	"Disclaimer:",
	"This article does not contain investment advice or recommendations",
	"Cookie",
	"Privacy Policy",
}

// cleanContent removes boilerplate lines from selector output
func cleanContent(content string) string {
	if content == "" {
		return ""
	}

	for _, phrase := range junkPhrases {
		content = strings.ReplaceAll(content, phrase, "")
	}

	var kept []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 8 {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "all rights reserved") || strings.Contains(lower, "newsletter") {
			continue
		}
		kept = append(kept, line)
	}

	return normalizeWhitespace(strings.Join(kept, "\n\n"))
}

// normalizeWhitespace collapses runs of spaces and keeps at most one blank line.
func normalizeWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", ""), "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
