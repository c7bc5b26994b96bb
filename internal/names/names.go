// Package names extracts physician names, and optional trailing states, from
// pasted lists and uploaded text or RTF files.
package names

import (
	"regexp"
	"strings"
)

// Entry is one candidate name. State is empty when none was given on the line.
type Entry struct {
	Name  string
	State string
}

var (
	disallowed = regexp.MustCompile(`[^a-zA-Z\s'-]`)

	rtfBreak   = regexp.MustCompile(`\\(par|line)\b[ \t]?`)
	rtfControl = regexp.MustCompile(`\\[a-z]+-?\d*[ \t]?`)
	rtfBraces  = regexp.MustCompile(`[{}]`)
	rtfHex     = regexp.MustCompile(`\\'[0-9a-f]{2}`)
)

// Clean drops everything except letters, whitespace, hyphens and apostrophes
// and collapses whitespace runs. It returns "" when fewer than two tokens remain.
func Clean(s string) string {
	fields := strings.Fields(disallowed.ReplaceAllString(s, ""))
	if len(fields) < 2 {
		return ""
	}
	return strings.Join(fields, " ")
}

// ParseList cleans each entry of a pasted list. Entries that do not contain
// at least a first and last name are dropped.
func ParseList(lines []string) []Entry {
	var out []Entry
	for _, line := range lines {
		if name := Clean(line); name != "" {
			out = append(out, Entry{Name: name})
		}
	}
	return out
}

// ParseFile parses uploaded file content, one name per line. Lines may carry
// a state as "Name, ST" or "Name (ST)".
func ParseFile(content string) []Entry {
	if strings.HasPrefix(content, `{\rtf`) {
		content = StripRTF(content)
	}

	var out []Entry
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, state := splitState(line)
		if name = Clean(name); name != "" {
			out = append(out, Entry{Name: name, State: state})
		}
	}
	return out
}

func splitState(line string) (name, state string) {
	if i := strings.Index(line, ","); i >= 0 {
		rest := line[i+1:]
		if j := strings.Index(rest, ","); j >= 0 {
			rest = rest[:j]
		}
		return line[:i], normalizeState(strings.Trim(rest, "() \t"))
	}
	if strings.HasSuffix(line, ")") {
		if i := strings.LastIndex(line, " ("); i >= 0 {
			return line[:i], normalizeState(strings.TrimSuffix(line[i+2:], ")"))
		}
	}
	return line, ""
}

func normalizeState(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// StripRTF turns paragraph and line controls into line breaks, removes other
// control words, braces and hex escapes, and turns any remaining backslash
// into a line break.
func StripRTF(content string) string {
	content = rtfBreak.ReplaceAllString(content, "\n")
	content = rtfControl.ReplaceAllString(content, " ")
	content = rtfBraces.ReplaceAllString(content, "")
	content = rtfHex.ReplaceAllString(content, "")
	return strings.ReplaceAll(content, `\`, "\n")
}

// Format renders entries one per line in the form ParseFile reads back.
func Format(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name)
		if e.State != "" {
			b.WriteString(", ")
			b.WriteString(e.State)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
