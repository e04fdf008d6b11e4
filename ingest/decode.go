package ingest

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dhcgn/mbox-archive/model"
)

// DefaultSniffLimit is how many leading bytes are inspected to detect a MIME type.
const DefaultSniffLimit = 4096

var ErrDecode = errors.New("attachment decode failed")

// DecodeAttachment returns the content bytes of an attachment. Binary
// payloads are base64 decoded; text payloads are used as is.
func DecodeAttachment(att model.Attachment) ([]byte, error) {
	if !att.Binary {
		return []byte(att.Payload), nil
	}

	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, att.Payload)

	data, err := base64.StdEncoding.DecodeString(clean)
	if err == nil {
		return data, nil
	}
	if !strings.Contains(clean, "=") && len(clean)%4 != 0 {
		if data, rawErr := base64.RawStdEncoding.DecodeString(clean); rawErr == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrDecode, err)
}

// SniffMIME detects the media type of data from at most limit leading bytes.
// Parameters such as charset are dropped.
func SniffMIME(data []byte, limit int) string {
	if limit > 0 && len(data) > limit {
		data = data[:limit]
	}
	t, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return strings.TrimSpace(t)
}
