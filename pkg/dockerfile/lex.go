// Package dockerfile parses and evaluates Dockerfiles against a
// types.ImageSpec, one directive at a time.
package dockerfile

import (
	"bufio"
	"regexp"
	"strings"
)

// rawLine is one directive as split into its keyword and un-expanded
// value text, spanning any backslash-continued lines, comments and
// blank lines skipped within the continuation, matching the
// source grammar's DirectiveValue production.
type rawLine struct {
	Name  string
	Value string
}

var trailingContinuation = regexp.MustCompile(`\\[ \t]*$`)

// stripWhitespaceAfterContinuations collapses "\   \n" into "\\\n" so a
// trailing backslash followed only by whitespace still continues the
// line, matching a deliberately permissive quirk of the Dockerfiles
// this grammar was built against.
func stripWhitespaceAfterContinuations(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if trailingContinuation.MatchString(l) {
			lines[i] = trailingContinuation.ReplaceAllString(l, `\`)
		}
	}
	return strings.Join(lines, "\n")
}

// lex splits a full Dockerfile into its directive lines, skipping
// comment-only and blank lines, and following backslash-newline
// continuations (which may themselves contain comment and blank lines).
func lex(content string) ([]rawLine, error) {
	content = stripWhitespaceAfterContinuations(content)
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var out []rawLine
	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			i++
			continue
		}

		name, rest := splitName(trimmed)
		var value strings.Builder
		value.WriteString(rest)
		for strings.HasSuffix(value.String(), `\`) {
			cur := strings.TrimSuffix(value.String(), `\`)
			value.Reset()
			value.WriteString(cur)
			i++
			for i < len(lines) {
				next := strings.TrimSpace(lines[i])
				if next == "" || strings.HasPrefix(next, "#") {
					i++
					continue
				}
				break
			}
			if i >= len(lines) {
				break
			}
			value.WriteString(lines[i])
		}
		out = append(out, rawLine{Name: name, Value: value.String()})
		i++
	}
	return out, nil
}

// splitName pulls the leading alphabetic keyword off a directive line
// (FROM, RUN, ENV, ...) and returns it uppercased along with the
// remaining, still-unexpanded value text.
func splitName(line string) (string, string) {
	i := 0
	for i < len(line) && isAlpha(line[i]) {
		i++
	}
	name := strings.ToUpper(line[:i])
	value := strings.TrimLeft(line[i:], " \t")
	return name, value
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
