// Package parser extracts YAML frontmatter and headings from Markdown notes.
package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Title       string
}

// Parse splits raw Markdown into frontmatter and body. Malformed frontmatter is
// treated as part of the body.
func Parse(data []byte) *Result {
	fm, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
	}
}

func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	block := rest[:idx]
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

// deriveTitle returns the frontmatter "title", else the first H1 heading.
func deriveTitle(fm map[string]any, body string) string {
	if s := String(fm, "title"); s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// String returns fm[key] as a trimmed string. Scalars of other types are
// formatted; missing keys yield "".
func String(fm map[string]any, key string) string {
	switch v := fm[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns fm[key] as an integer. A trailing "%" is accepted, so
// "40%" and 40 both yield 40.
func Int(fm map[string]any, key string) (int, bool) {
	switch v := fm[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		return n, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Time returns fm[key] as a time. YAML timestamps and ISO-8601 strings with or
// without a zone are accepted; zoneless values are read in loc.
func Time(fm map[string]any, key string, loc *time.Location) (time.Time, bool) {
	switch v := fm[key].(type) {
	case time.Time:
		return v, true
	case string:
		return ParseTime(v, loc)
	}
	return time.Time{}, false
}

// ParseTime parses an ISO-8601 date or datetime.
func ParseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
