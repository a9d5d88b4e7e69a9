// Package frontmatter implements the document codec shared by every artifact
// type: a leading block of flat `key: value` lines delimited by `---`,
// followed by a free-text body. Parsing never fails; input without a valid
// leading block is treated as pure body. Serialization is deterministic:
// keys are emitted in lexicographic order and values are single-line, so
// writing logically identical content twice produces byte-identical files.
package frontmatter

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

const delimiter = "---"

// Doc is an ordered mapping of string keys to string values plus a trimmed
// free-text body. Values carry no structure; callers coerce.
type Doc struct {
	Fields map[string]string
	Body   string
}

// New returns an empty document ready for field assignment.
func New() Doc {
	return Doc{Fields: make(map[string]string)}
}

// Parse decodes text into a Doc. A missing or malformed leading delimiter
// block yields an empty field map with the whole input as body.
func Parse(text string) Doc {
	doc := New()
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		doc.Body = strings.TrimSpace(normalized)
		return doc
	}

	closing := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			closing = i
			break
		}
	}
	if closing == -1 {
		doc.Body = strings.TrimSpace(normalized)
		return doc
	}

	for _, line := range lines[1:closing] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.Index(trimmed, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:idx])
		if key == "" {
			continue
		}
		doc.Fields[key] = unquote(strings.TrimSpace(trimmed[idx+1:]))
	}

	doc.Body = strings.TrimSpace(strings.Join(lines[closing+1:], "\n"))
	return doc
}

// Serialize renders doc in the canonical on-disk form: delimiter, sorted
// `key: value` lines, delimiter, blank line, trimmed body, trailing newline.
func Serialize(doc Doc) string {
	keys := make([]string, 0, len(doc.Fields))
	for k := range doc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(delimiter + "\n")
	for _, k := range keys {
		v := singleLine(doc.Fields[k])
		if v == "" {
			v = `""`
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	b.WriteString(delimiter + "\n\n")
	b.WriteString(strings.TrimSpace(doc.Body))
	b.WriteString("\n")
	return b.String()
}

// String returns the raw value for key, or "" when absent.
func (d Doc) String(key string) string {
	return d.Fields[key]
}

// Bool coerces the value for key, falling back to def when the value is
// absent or not a recognized boolean.
func (d Doc) Bool(key string, def bool) bool {
	raw, ok := d.Fields[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

// Int64 coerces the value for key. The second return reports whether the
// value was present and numeric.
func (d Doc) Int64(key string) (int64, bool) {
	raw, ok := d.Fields[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// StringList decodes an ordered list value. Lists are stored as JSON arrays;
// a bare comma-separated value is accepted for hand-edited files.
func (d Doc) StringList(key string) []string {
	raw, ok := d.Fields[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		return items
	}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			items = append(items, p)
		}
	}
	return items
}

// Set assigns a string value.
func (d Doc) Set(key, value string) {
	d.Fields[key] = value
}

// SetBool assigns a boolean value.
func (d Doc) SetBool(key string, value bool) {
	d.Fields[key] = strconv.FormatBool(value)
}

// SetInt64 assigns an integer value.
func (d Doc) SetInt64(key string, value int64) {
	d.Fields[key] = strconv.FormatInt(value, 10)
}

// SetStringList assigns an ordered list value as a JSON array.
func (d Doc) SetStringList(key string, items []string) {
	if items == nil {
		items = []string{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return
	}
	d.Fields[key] = string(encoded)
}

// unquote strips one layer of matching surrounding quotes.
func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if first == last && (first == '"' || first == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// singleLine collapses embedded newlines; header values are never multi-line.
func singleLine(v string) string {
	v = strings.ReplaceAll(v, "\r\n", "\n")
	v = strings.ReplaceAll(v, "\r", "\n")
	parts := strings.Split(v, "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
