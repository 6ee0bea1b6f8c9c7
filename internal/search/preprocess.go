package search

import (
	"bufio"
	"regexp"
	"strings"
)

var (
	imageRE    = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkRE     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	emphasisRE = regexp.MustCompile("[*_~`]+")
	headingRE  = regexp.MustCompile(`^#{1,6}\s+`)
	bulletRE   = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)
)

// PlainText flattens markdown into prose for indexing and excerpts: images
// are dropped, links keep their label, emphasis markers, heading hashes,
// quote markers and list bullets are removed, and table rows become one line
// of space-joined cells (separator rows are skipped). Paragraphs are kept
// apart by a blank line.
func PlainText(md string) string {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(md))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	blank := true // avoid a leading blank line
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "```") {
			if !blank {
				b.WriteString("\n")
				blank = true
			}
			continue
		}

		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") {
			line = tableRow(line)
			if line == "" {
				continue
			}
		}

		line = strings.TrimLeft(line, "> ")
		line = headingRE.ReplaceAllString(line, "")
		line = bulletRE.ReplaceAllString(line, "")
		line = imageRE.ReplaceAllString(line, "")
		line = linkRE.ReplaceAllString(line, "$1")
		line = emphasisRE.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
		blank = false
	}
	return strings.TrimRight(b.String(), "\n")
}

// tableRow returns the non-empty cells of a markdown table row joined by a
// space, or "" for separator rows like |---|:--:|.
func tableRow(line string) string {
	cells := strings.Split(strings.Trim(line, "|"), "|")
	out := make([]string, 0, len(cells))
	sep := true
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if strings.Trim(c, ":- ") != "" {
			sep = false
		}
		if c != "" {
			out = append(out, c)
		}
	}
	if sep {
		return ""
	}
	return strings.Join(out, " ")
}

// Summary returns the first n runes of the plain text of md on one line.
func Summary(md string, n int) string {
	return excerpt(normalizeWhitespace(PlainText(md)), n)
}
