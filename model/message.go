package model

import "time"

// Message is a single raw message handed to the archiver by an input source.
type Message struct {
	// Source identifies the input the message came from (mbox path, imap URL).
	Source string
	Index  int
	Spam   bool
	Raw    []byte
}

// Envelope wraps a message alongside an optional error encountered while reading.
type Envelope struct {
	Message Message
	Err     error
}

// Address is a (name, address) pair taken from a From/To header.
type Address struct {
	Name  string
	Email string
}

// Attachment describes one attachment part as the MIME layer extracted it.
// Binary payloads are kept base64 encoded, text payloads already decoded.
type Attachment struct {
	Filename    string
	ContentType string
	Binary      bool
	Payload     string
}

// Part is a non-attachment MIME leaf left in the message body.
type Part struct {
	ContentType string
	Size        int
}

// ParsedMessage holds the structured fields the archiver needs.
type ParsedMessage struct {
	Date        time.Time
	From        []Address
	To          []Address
	Subjects    []string
	Parts       []Part
	Attachments []Attachment
}

// Subject returns the normalized subject of the message.
func (p *ParsedMessage) Subject() string {
	return NormalizeSubject(p.Subjects)
}

// NormalizeSubject collapses a possibly repeated Subject header to its first
// value, or the empty string when there is none.
func NormalizeSubject(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
