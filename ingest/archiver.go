// Package ingest archives parsed messages: it derives identity keys, stores
// raw messages and attachments in the object store and records their
// metadata.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhcgn/mbox-archive/metadata"
	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/parse"
)

// ObjectStore is the content-addressed blob store.
type ObjectStore interface {
	Exists(id string) (bool, error)
	Save(id string, data []byte) (string, error)
}

// MetadataStore records emails, contacts and attachments.
type MetadataStore interface {
	AddEmail(ctx context.Context, id string, from, to []model.Address, subject string, sentAt int64) (bool, error)
	AddAttachment(ctx context.Context, emailID, attachmentID, sourceName string, size int64, mime string) (bool, error)
}

type Options struct {
	KeyScheme  KeyScheme
	Quarantine *Quarantine
	SniffLimit int
}

// Outcome describes what archiving one message did.
type Outcome struct {
	Key                string
	Spam               bool
	ParseError         bool
	RecordError        bool
	NewEmail           bool
	Attachments        int
	NewAttachments     int
	SkippedAttachments int
}

// Failed reports whether the message counts as an error for the run.
func (o Outcome) Failed() bool {
	return o.ParseError || o.RecordError
}

// Archiver processes one message at a time. Every dedup decision is made
// against the stores; the only state it keeps is the failure count that
// numbers quarantine files. Archive must not be called concurrently.
type Archiver struct {
	objects    ObjectStore
	meta       MetadataStore
	scheme     KeyScheme
	quarantine *Quarantine
	sniffLimit int
	parse      func([]byte) (*model.ParsedMessage, error)
	logger     *slog.Logger

	// failures counts messages whose Outcome failed so far.
	failures int
}

func New(objects ObjectStore, meta MetadataStore, opts Options, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	scheme := opts.KeyScheme
	if scheme == "" {
		scheme = KeySchemeLegacy
	}
	limit := opts.SniffLimit
	if limit <= 0 {
		limit = DefaultSniffLimit
	}
	return &Archiver{
		objects:    objects,
		meta:       meta,
		scheme:     scheme,
		quarantine: opts.Quarantine,
		sniffLimit: limit,
		parse:      parse.Parse,
		logger:     logger,
	}
}

// Archive stores msg. Per-message problems (spam, parse failure, a record the
// metadata store refuses, an undecodable attachment) are reported in the
// Outcome. A returned error means storage failed and the run must stop.
func (a *Archiver) Archive(ctx context.Context, msg model.Message) (Outcome, error) {
	var out Outcome

	if msg.Spam {
		out.Spam = true
		a.logger.Debug("spam skipped", "source", msg.Source, "index", msg.Index)
		return out, nil
	}

	parsed, err := a.parse(msg.Raw)
	if err != nil {
		out.ParseError = true
		a.failures++
		a.logger.Warn("unable to parse message", "source", msg.Source, "index", msg.Index, "err", err)
		if a.quarantine != nil {
			path, err := a.quarantine.Save(a.failures, msg.Raw)
			if err != nil {
				return out, fmt.Errorf("quarantine message %d: %w", msg.Index, err)
			}
			a.logger.Info("message quarantined", "index", msg.Index, "path", path)
		}
		return out, nil
	}

	subject := parsed.Subject()
	key := IdentityKey(parsed.Date, parsed.From, parsed.To, subject, a.scheme)
	out.Key = key

	if err := a.store(key, msg.Raw); err != nil {
		return out, err
	}

	created, err := a.meta.AddEmail(ctx, key, parsed.From, parsed.To, subject, parsed.Date.Unix())
	if err != nil {
		if errors.Is(err, metadata.ErrInvalidRecord) {
			out.RecordError = true
			a.failures++
			a.logger.Error("unable to add email",
				"id", key, "from", parsed.From, "to", parsed.To,
				"subject", subject, "date", parsed.Date.Unix(), "err", err)
			return out, nil
		}
		return out, fmt.Errorf("add email %s: %w", key, err)
	}
	out.NewEmail = created
	if !created {
		a.logger.Debug("email already recorded", "id", key)
	}
	a.logger.Debug("email archived", "id", key, "new", created,
		"bodyParts", len(parsed.Parts), "attachments", len(parsed.Attachments))

	for _, att := range parsed.Attachments {
		out.Attachments++
		added, ok, err := a.archiveAttachment(ctx, key, att)
		if err != nil {
			return out, err
		}
		if !ok {
			out.SkippedAttachments++
			continue
		}
		if added {
			out.NewAttachments++
		}
	}

	return out, nil
}

// archiveAttachment stores one attachment of email key. ok is false when the
// attachment was skipped.
func (a *Archiver) archiveAttachment(ctx context.Context, key string, att model.Attachment) (created, ok bool, err error) {
	data, err := DecodeAttachment(att)
	if err != nil {
		a.logger.Warn("skipping attachment because of decode error", "mailID", key, "filename", att.Filename, "err", err)
		return false, false, nil
	}

	id := ContentKey(data)
	if !att.Binary {
		a.logger.Debug("text attachment", "mailID", key, "id", id, "filename", att.Filename)
	}

	if err := a.store(id, data); err != nil {
		return false, false, err
	}

	name := strings.ReplaceAll(strings.ToValidUTF8(att.Filename, "�"), "\x00", "")
	created, err = a.meta.AddAttachment(ctx, key, id, name, int64(len(data)), SniffMIME(data, a.sniffLimit))
	if err != nil {
		if errors.Is(err, metadata.ErrInvalidRecord) {
			a.logger.Warn("skipping attachment", "mailID", key, "id", id, "filename", name, "err", err)
			return false, false, nil
		}
		return false, false, fmt.Errorf("add attachment %s: %w", id, err)
	}
	return created, true, nil
}

func (a *Archiver) store(id string, data []byte) error {
	exists, err := a.objects.Exists(id)
	if err != nil {
		return fmt.Errorf("check object %s: %w", id, err)
	}
	if exists {
		a.logger.Debug("object already stored", "id", id)
		return nil
	}
	path, err := a.objects.Save(id, data)
	if err != nil {
		return fmt.Errorf("save object %s: %w", id, err)
	}
	a.logger.Debug("object stored", "id", id, "path", path, "size", len(data))
	return nil
}
