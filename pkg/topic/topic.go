package topic

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Separator splits a topic into segments
	Separator = "/"

	// MultiLevelWildcard matches any number of trailing segments
	MultiLevelWildcard = "#"

	// SingleLevelWildcard matches exactly one segment
	SingleLevelWildcard = "+"
)

var (
	// ErrMalformedFilter is returned when a segment mixes a wildcard with literal text
	// or, in strict mode, when "#" is not the last segment.
	ErrMalformedFilter = errors.New("malformed topic filter")
	// ErrWildcardInTopicName is returned when a published topic name contains a wildcard
	ErrWildcardInTopicName = errors.New("topic name cannot contain wildcards")
	// ErrEmptyTopic is returned when a blank topic is used where a value is required
	ErrEmptyTopic = errors.New("topic cannot be empty")
)

// MalformedFilterError describes the offending segment of a rejected filter.
type MalformedFilterError struct {
	Filter  string
	Segment string
	Level   int
	Reason  string
}

func (e *MalformedFilterError) Error() string {
	return fmt.Sprintf("malformed topic filter %q: segment %d (%q) %s", e.Filter, e.Level, e.Segment, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedFilter.
func (e *MalformedFilterError) Unwrap() error {
	return ErrMalformedFilter
}

// Kind classifies a segment.
type Kind uint8

const (
	// Literal segments match only identical text
	Literal Kind = iota
	// SingleWildcard is the "+" segment
	SingleWildcard
	// MultiWildcard is the "#" segment
	MultiWildcard
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case SingleWildcard:
		return "single-wildcard"
	case MultiWildcard:
		return "multi-wildcard"
	default:
		return "unknown"
	}
}

// Segment is one trimmed, "/" delimited token of a topic or filter.
type Segment struct {
	Text  string
	Kind  Kind
	Level int
}

// IsWildcard reports whether the segment is "+" or "#".
func (s Segment) IsWildcard() bool {
	return s.Kind != Literal
}

// Topic is the parsed, immutable form of a topic name or filter.
// The zero value is not useful; use Parse, Lookup or Empty.
type Topic struct {
	raw       string
	canonical string
	segments  []Segment
	wildcards int
}

// Empty is the parsed form of a blank string. It matches only itself.
var Empty = &Topic{}

// Parse splits raw into segments and validates wildcard placement within each
// segment. Blank input returns Empty. A single trailing separator is ignored, so
// "a/b/" parses like "a/b"; leading and interior empty segments are kept.
func Parse(raw string) (*Topic, error) {
	if strings.TrimSpace(raw) == "" {
		return Empty, nil
	}

	pieces := strings.Split(raw, Separator)
	if len(pieces) > 1 && pieces[len(pieces)-1] == "" {
		pieces = pieces[:len(pieces)-1]
	}

	t := &Topic{
		raw:      raw,
		segments: make([]Segment, len(pieces)),
	}
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		text := strings.TrimSpace(piece)
		kind := Literal
		switch {
		case text == MultiLevelWildcard:
			kind = MultiWildcard
		case text == SingleLevelWildcard:
			kind = SingleWildcard
		case strings.ContainsAny(text, MultiLevelWildcard+SingleLevelWildcard):
			return nil, &MalformedFilterError{
				Filter:  raw,
				Segment: text,
				Level:   i,
				Reason:  "mixes a wildcard with literal text",
			}
		}
		if kind != Literal {
			t.wildcards++
		}
		t.segments[i] = Segment{Text: text, Kind: kind, Level: i}
		texts[i] = text
	}
	t.canonical = strings.Join(texts, Separator)
	return t, nil
}

// MustParse is like Parse but panics on a malformed filter. Intended for tests
// and package-level filter constants.
func MustParse(raw string) *Topic {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the raw string the topic was parsed from.
func (t *Topic) String() string {
	return t.raw
}

// Canonical returns the trimmed segments joined by the separator. Two raw
// strings that parse to the same segments share a canonical form, so
// "a / b/" and "a/b" are the same filter.
func (t *Topic) Canonical() string {
	return t.canonical
}

// IsEmpty reports whether t is the parsed form of a blank string.
func (t *Topic) IsEmpty() bool {
	return len(t.segments) == 0
}

// Len returns the number of segments.
func (t *Topic) Len() int {
	return len(t.segments)
}

// Segment returns the segment at level i.
func (t *Topic) Segment(i int) Segment {
	return t.segments[i]
}

// Segments returns a copy of the segments.
func (t *Topic) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// HasWildcards reports whether any segment is "+" or "#".
func (t *Topic) HasWildcards() bool {
	return t.wildcards > 0
}

// Validate enforces standard MQTT filter rules on top of Parse: "#" may only
// appear as the last segment.
func (t *Topic) Validate() error {
	for i, seg := range t.segments {
		if seg.Kind == MultiWildcard && i != len(t.segments)-1 {
			return &MalformedFilterError{
				Filter:  t.raw,
				Segment: seg.Text,
				Level:   i,
				Reason:  "multi-level wildcard must be the last segment",
			}
		}
	}
	return nil
}

// ValidateName checks that t can be used as a published topic name.
func (t *Topic) ValidateName() error {
	if t.IsEmpty() {
		return ErrEmptyTopic
	}
	if t.HasWildcards() {
		return fmt.Errorf("%w: %q", ErrWildcardInTopicName, t.raw)
	}
	return nil
}

// Matches reports whether t, used as a filter, matches name.
func (t *Topic) Matches(name *Topic) bool {
	return Match(t, name)
}
