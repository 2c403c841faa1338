package hangr

import "fmt"

// PartKind is the kind of a raw outgoing message part.
type PartKind string

const (
	PartText      PartKind = "text"
	PartLink      PartKind = "link"
	PartLineBreak PartKind = "linebreak"
)

// MessagePart is one piece of a message typed by the user. For a link,
// Value is the target and Text the optional label.
type MessagePart struct {
	Kind  PartKind `json:"kind"`
	Value string   `json:"value,omitempty"`
	Text  string   `json:"text,omitempty"`
}

// OutgoingMessage is a message to send. An empty ClientGeneratedID is
// filled in by the manager.
type OutgoingMessage struct {
	ClientGeneratedID string        `json:"clientGeneratedId,omitempty"`
	Parts             []MessagePart `json:"parts"`
}

// Text is a convenience constructor for a single-segment message.
func Text(s string) OutgoingMessage {
	return OutgoingMessage{Parts: []MessagePart{{Kind: PartText, Value: s}}}
}

// MessageBuilder accumulates message segments.
type MessageBuilder struct {
	segments []Segment
}

// Text appends a plain text run. Empty text is ignored.
func (b *MessageBuilder) Text(s string) *MessageBuilder {
	if s != "" {
		b.segments = append(b.segments, Segment{Type: SegmentText, Text: s})
	}
	return b
}

// Link appends a hyperlink labelled text.
func (b *MessageBuilder) Link(text, target string) *MessageBuilder {
	if text == "" {
		text = target
	}
	b.segments = append(b.segments, Segment{Type: SegmentLink, Text: text, LinkTarget: target})
	return b
}

// LineBreak appends a line break.
func (b *MessageBuilder) LineBreak() *MessageBuilder {
	b.segments = append(b.segments, Segment{Type: SegmentLineBreak, Text: "\n"})
	return b
}

// Segments returns the built segments.
func (b *MessageBuilder) Segments() []Segment {
	return append([]Segment(nil), b.segments...)
}

// BuildSegments converts raw parts to segments.
func BuildSegments(parts []MessagePart) ([]Segment, error) {
	var b MessageBuilder
	for i, p := range parts {
		switch p.Kind {
		case PartText:
			b.Text(p.Value)
		case PartLink:
			b.Link(p.Text, p.Value)
		case PartLineBreak:
			b.LineBreak()
		default:
			return nil, fmt.Errorf("message part %d: unknown kind %q", i, p.Kind)
		}
	}
	return b.Segments(), nil
}
