package xmpp

import (
	"bytes"
	"encoding/xml"
)

type EventKind int

const (
	EventPresence EventKind = iota
	EventMessage
	EventIQ
)

// Event is one decoded stanza off the wire. Type carries the stanza's type
// attribute ("groupchat", "error", "result", ...); ErrCondition is the defined
// condition of an <error/> child when present.
type Event struct {
	Kind         EventKind
	From         string
	Type         string
	ID           string
	Body         string
	ErrCondition string
}

// frame is the superset of everything we care about in one websocket message:
// framing elements, SASL results, and the three stanza kinds.
type frame struct {
	XMLName xml.Name
	Type    string    `xml:"type,attr"`
	From    string    `xml:"from,attr"`
	ID      string    `xml:"id,attr"`
	Body    string    `xml:"body"`
	BindJID string    `xml:"bind>jid"`
	Error   *frameErr `xml:"error"`
}

type frameErr struct {
	Children []errChild `xml:",any"`
}

type errChild struct {
	XMLName xml.Name
}

func (e *frameErr) condition() string {
	if e == nil {
		return ""
	}
	for _, c := range e.Children {
		if c.XMLName.Local != "text" {
			return c.XMLName.Local
		}
	}
	return "unknown-error"
}

func parseFrame(raw []byte) (*frame, error) {
	var f frame
	if err := xml.Unmarshal(bytes.TrimSpace(raw), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *frame) event() (Event, bool) {
	switch f.XMLName.Local {
	case "presence":
		return Event{Kind: EventPresence, From: f.From, Type: f.Type, ID: f.ID,
			ErrCondition: f.Error.condition()}, true
	case "message":
		return Event{Kind: EventMessage, From: f.From, Type: f.Type, ID: f.ID,
			Body: f.Body, ErrCondition: f.Error.condition()}, true
	case "iq":
		return Event{Kind: EventIQ, From: f.From, Type: f.Type, ID: f.ID,
			ErrCondition: f.Error.condition()}, true
	}
	return Event{}, false
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
