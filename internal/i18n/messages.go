package i18n

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Entry is one node of a locale catalog: either a text leaf or a nested
// group of further entries.
type Entry struct {
	Text     string
	Children Messages
}

// Messages is a nested locale mapping addressed by dotted key paths.
type Messages map[string]Entry

// Text returns a leaf entry.
func Text(s string) Entry { return Entry{Text: s} }

// Group returns a nested entry.
func Group(m Messages) Entry {
	if m == nil {
		m = Messages{}
	}
	return Entry{Children: m}
}

// IsGroup reports whether e holds nested entries rather than text.
func (e Entry) IsGroup() bool { return e.Children != nil }

// UnmarshalJSON accepts strings, scalars and objects. Scalars such as
// numbers are kept as their text form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var children Messages
		if err := json.Unmarshal(data, &children); err != nil {
			return err
		}
		*e = Group(children)
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		return fmt.Errorf("locale entries cannot be arrays")
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Text(cast.ToString(raw))
	return nil
}

// MarshalJSON writes leaves as strings and groups as objects.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.IsGroup() {
		return json.Marshal(map[string]Entry(e.Children))
	}
	return json.Marshal(e.Text)
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML catalogs.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var children Messages
		if err := node.Decode(&children); err != nil {
			return err
		}
		*e = Group(children)
		return nil
	case yaml.ScalarNode:
		*e = Text(node.Value)
		return nil
	case yaml.AliasNode:
		return e.UnmarshalYAML(node.Alias)
	default:
		return fmt.Errorf("line %d: locale entries must be text or mappings", node.Line)
	}
}

// Lookup resolves a dotted key path to its text. Paths ending on a group,
// missing paths and empty text all miss.
func (m Messages) Lookup(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	current := m
	parts := strings.Split(path, ".")
	for i, part := range parts {
		entry, ok := current[part]
		if !ok {
			return "", false
		}
		if i == len(parts)-1 {
			if entry.IsGroup() || entry.Text == "" {
				return "", false
			}
			return entry.Text, true
		}
		if !entry.IsGroup() {
			return "", false
		}
		current = entry.Children
	}
	return "", false
}

// Clone returns a deep copy.
func (m Messages) Clone() Messages {
	if m == nil {
		return nil
	}
	out := make(Messages, len(m))
	for k, e := range m {
		if e.IsGroup() {
			out[k] = Group(e.Children.Clone())
		} else {
			out[k] = e
		}
	}
	return out
}

// Keys returns every leaf path in sorted order.
func (m Messages) Keys() []string {
	var keys []string
	var walk func(prefix string, msgs Messages)
	walk = func(prefix string, msgs Messages) {
		for k, e := range msgs {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if e.IsGroup() {
				walk(path, e.Children)
			} else {
				keys = append(keys, path)
			}
		}
	}
	walk("", m)
	sort.Strings(keys)
	return keys
}

// ConflictError reports a merge that would replace a group with text or
// text with a group.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("i18n: conflicting entry kinds at %q", e.Path)
}

// Merge returns base with partial layered on top. Only the leaves partial
// provides are overwritten at each depth; base is not modified. A partial
// that would change an entry between text and group is rejected.
func Merge(base, partial Messages) (Messages, error) {
	out := base.Clone()
	if out == nil {
		out = Messages{}
	}
	if err := mergeInto(out, partial, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeInto(dst, src Messages, prefix string) error {
	for k, incoming := range src {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		existing, ok := dst[k]
		switch {
		case !ok:
			if incoming.IsGroup() {
				dst[k] = Group(incoming.Children.Clone())
			} else {
				dst[k] = incoming
			}
		case existing.IsGroup() != incoming.IsGroup():
			return &ConflictError{Path: path}
		case existing.IsGroup():
			if err := mergeInto(existing.Children, incoming.Children, path); err != nil {
				return err
			}
		default:
			dst[k] = incoming
		}
	}
	return nil
}
