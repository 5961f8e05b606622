package response

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// MalformedResponseError reports reply text that cannot be split into records.
type MalformedResponseError struct {
	Raw    string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response (%s): %q", e.Reason, e.Raw)
}

type node struct {
	token  string
	list   []node
	isList bool
}

// Parse splits reply text into records. Every balanced top-level {...} is one
// record whose first element is its (type) tag, either bare or wrapped in its
// own braces. The other sub-blocks are key:value pairs split on the first
// colon. Text outside braces, such as the echoed command and the prompt, is
// ignored; text with no braces at all yields no records.
func Parse(text string) ([]Record, error) {
	spans, err := blocks(text)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(spans))
	for _, span := range spans {
		tree, _ := parseList(span, 0)
		rec, err := toRecord(tree, span)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func blocks(text string) ([]string, error) {
	var spans []string
	depth, start := 0, 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth < 0 {
				return nil, &MalformedResponseError{Raw: text, Reason: fmt.Sprintf("unmatched '}' at %d", i)}
			}
			if depth == 0 {
				spans = append(spans, text[start:i+1])
			}
		}
	}
	if depth != 0 {
		return nil, &MalformedResponseError{Raw: text, Reason: fmt.Sprintf("%d unclosed '{'", depth)}
	}
	return spans, nil
}

// parseList reads the list opening at s[pos] and returns it with the index
// just past its closing brace. s is known to be balanced.
func parseList(s string, pos int) (node, int) {
	n := node{isList: true}
	i := pos + 1
	for i < len(s) {
		c := s[i]
		switch {
		case c == '{':
			child, next := parseList(s, i)
			n.list = append(n.list, child)
			i = next
		case c == '}':
			return n, i + 1
		case isSpace(c):
			i++
		default:
			j := i
			for j < len(s) && s[j] != '{' && s[j] != '}' && !isSpace(s[j]) {
				j++
			}
			n.list = append(n.list, node{token: s[i:j]})
			i = j
		}
	}
	return n, i
}

func toRecord(n node, raw string) (Record, error) {
	if len(n.list) == 0 {
		return Record{}, &MalformedResponseError{Raw: raw, Reason: "empty block"}
	}
	tag := n.list[0]
	if tag.isList && len(tag.list) == 1 {
		tag = tag.list[0]
	}
	if tag.isList || !isTag(tag.token) {
		return Record{}, &MalformedResponseError{Raw: raw, Reason: "missing (type) tag"}
	}

	rec := Record{Type: tag.token, values: map[string]string{}}
	for _, item := range n.list[1:] {
		entry := strings.Join(flatten(item, nil), " ")
		key, value, ok := strings.Cut(entry, ":")
		if !ok {
			log.Debugf("%s: skipping entry without key %q", rec.Type, entry)
			continue
		}
		rec.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return rec, nil
}

func flatten(n node, out []string) []string {
	if !n.isList {
		return append(out, n.token)
	}
	for _, c := range n.list {
		out = flatten(c, out)
	}
	return out
}

func isTag(s string) bool {
	return len(s) > 2 && s[0] == '(' && s[len(s)-1] == ')'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == 0
}
