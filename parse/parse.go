// Package parse turns raw RFC 5322 messages into the structured form the
// archiver consumes: date, senders, recipients, subject and attachments.
package parse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/mbox-archive/model"
)

const maxDepth = 16

// ErrUnparseable marks a message whose structure could not be understood.
var ErrUnparseable = errors.New("unparseable message")

// Parse reads raw and returns its structured fields. Any failure wraps
// ErrUnparseable.
func Parse(raw []byte) (*model.ParsedMessage, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrUnparseable, err)
	}
	if th.Len() == 0 {
		return nil, fmt.Errorf("%w: empty header", ErrUnparseable)
	}

	h := mail.Header{Header: message.Header{Header: th}}

	if !h.Has("Date") {
		return nil, fmt.Errorf("%w: missing Date header", ErrUnparseable)
	}
	date, err := h.Date()
	if err != nil {
		return nil, fmt.Errorf("%w: date: %v", ErrUnparseable, err)
	}

	msg := &model.ParsedMessage{
		Date:     date,
		From:     addressList(&h, "From"),
		To:       addressList(&h, "To"),
		Subjects: subjects(&h),
	}

	if err := walk(msg, h.Header, br, 0); err != nil {
		return nil, err
	}
	return msg, nil
}

// addressList never fails the message: malformed entries are dropped.
func addressList(h *mail.Header, key string) []model.Address {
	if !h.Has(key) {
		return nil
	}
	list, err := h.AddressList(key)
	if err != nil {
		list = addressesOneByOne(key, h.Get(key))
	}
	out := make([]model.Address, 0, len(list))
	for _, a := range list {
		if a == nil || strings.TrimSpace(a.Address) == "" {
			continue
		}
		out = append(out, model.Address{Name: a.Name, Email: a.Address})
	}
	return out
}

// addressesOneByOne splits a header that failed to parse as a whole and
// keeps the addresses that parse on their own.
func addressesOneByOne(key, value string) []*mail.Address {
	var list []*mail.Address
	for _, piece := range strings.Split(value, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		a, err := mail.ParseAddress(piece)
		if err != nil {
			slog.Debug("dropping malformed address", "header", key, "value", piece, "err", err)
			continue
		}
		list = append(list, a)
	}
	return list
}

// subjects returns every Subject header, RFC 2047 decoded where possible.
func subjects(h *mail.Header) []string {
	var out []string
	fields := h.FieldsByKey("Subject")
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			v = fields.Value()
		}
		out = append(out, v)
	}
	return out
}

// walk descends the MIME tree. Leaves that are attachments go to
// msg.Attachments, the rest stay in msg.Parts.
func walk(msg *model.ParsedMessage, h message.Header, body io.Reader, depth int) error {
	mediaType := "text/plain"
	var params map[string]string
	if h.Has("Content-Type") {
		t, p, err := h.ContentType()
		if err == nil {
			mediaType, params = t, p
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxDepth {
			return fmt.Errorf("%w: multipart nested deeper than %d", ErrUnparseable, maxDepth)
		}
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("%w: %s without boundary", ErrUnparseable, mediaType)
		}
		src := &endReader{r: body}
		mr := textproto.NewMultipartReader(src, boundary)
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if src.ended {
					// Body ran out before the closing boundary.
					return nil
				}
				return fmt.Errorf("%w: multipart: %v", ErrUnparseable, err)
			}
			if err := walk(msg, message.Header{Header: part.Header}, part, depth+1); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(body)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: read part: %v", ErrUnparseable, err)
	}

	ah := mail.AttachmentHeader{Header: h}
	filename, _ := ah.Filename()
	disposition := ""
	if h.Has("Content-Disposition") {
		disposition, _, _ = h.ContentDisposition()
	}

	if !strings.EqualFold(disposition, "attachment") && filename == "" {
		msg.Parts = append(msg.Parts, model.Part{ContentType: mediaType, Size: len(data)})
		return nil
	}

	msg.Attachments = append(msg.Attachments, attachment(&h, mediaType, filename, data))
	return nil
}

func attachment(h *message.Header, mediaType, filename string, data []byte) model.Attachment {
	att := model.Attachment{Filename: filename, ContentType: mediaType}

	switch strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding"))) {
	case "base64":
		att.Binary = true
		att.Payload = string(data)
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(data)))
		if err != nil {
			decoded = data
		}
		att.Payload = string(decoded)
	default:
		att.Payload = string(data)
	}
	return att
}

// endReader records whether the wrapped reader has run out.
type endReader struct {
	r     io.Reader
	ended bool
}

func (e *endReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		e.ended = true
	}
	return n, err
}
