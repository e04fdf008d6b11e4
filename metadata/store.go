// Package metadata records the relational side of the archive: emails,
// attachments, contacts and the links between them, in a SQLite database.
//
// Every write is an insert-if-absent, so replaying the same input any number
// of times leaves the database unchanged after the first pass.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dhcgn/mbox-archive/model"
)

// MaxSourceNameLength bounds the stored attachment file name, in characters.
const MaxSourceNameLength = 200

const maxKeyLength = 64

// ErrInvalidRecord is returned for values the store refuses to bind. Nothing is
// written when it is returned.
var ErrInvalidRecord = errors.New("invalid metadata record")

// Store is the SQLite-backed metadata store. Each operation commits its own
// transaction; no transaction outlives a call.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Counts holds the row count of every table.
type Counts struct {
	Emails          int `db:"emails"`
	Attachments     int `db:"attachments"`
	Contacts        int `db:"contacts"`
	ContactLinks    int `db:"contact_links"`
	AttachmentLinks int `db:"attachment_links"`
}

// Open opens (or creates) the database at path, enables WAL and foreign keys,
// and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("metadata db path is empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer per process; this also keeps ":memory:" databases on a
	// single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=10000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// insertIfAbsent runs an INSERT OR IGNORE statement and reports whether a row
// was created. A conflicting key is a normal outcome, not an error.
func insertIfAbsent(ctx context.Context, q sqlx.ExecerContext, query string, args ...any) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddEmail records an email together with its senders and recipients. The
// email row, every contact of from ∪ to and the contact links are inserted if
// absent in one transaction. It reports whether the email row is new.
func (s *Store) AddEmail(
	ctx context.Context,
	id string,
	from, to []model.Address,
	subject string,
	sentAt int64,
) (bool, error) {
	if err := validateEmail(id, from, to, subject); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	created, err := insertIfAbsent(ctx, tx,
		"INSERT OR IGNORE INTO emails (id, subject, dt) VALUES (?, ?, ?)",
		id, subject, sentAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting email %s: %w", id, err)
	}
	if !created {
		s.logger.Debug("duplicate email", "id", id)
	}

	contactIDs := make(map[string]int64, len(from)+len(to))
	for _, list := range [][]model.Address{from, to} {
		for _, addr := range list {
			if _, ok := contactIDs[addr.Email]; ok {
				continue
			}
			cid, err := s.ensureContact(ctx, tx, addr)
			if err != nil {
				return false, err
			}
			contactIDs[addr.Email] = cid
		}
	}

	for _, link := range []struct {
		addrs    []model.Address
		isSender bool
	}{
		{addrs: from, isSender: true},
		{addrs: to, isSender: false},
	} {
		for _, addr := range link.addrs {
			cid := contactIDs[addr.Email]
			linked, err := insertIfAbsent(ctx, tx,
				"INSERT OR IGNORE INTO contact_to_mail (mail_id, contact_id, is_sender) VALUES (?, ?, ?)",
				id, cid, link.isSender,
			)
			if err != nil {
				return false, fmt.Errorf("linking contact %d to email %s: %w", cid, id, err)
			}
			if !linked {
				s.logger.Debug("duplicate contact_to_mail", "mailID", id, "contactID", cid, "isSender", link.isSender)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing email %s: %w", id, err)
	}
	return created, nil
}

func (s *Store) ensureContact(ctx context.Context, tx *sqlx.Tx, addr model.Address) (int64, error) {
	created, err := insertIfAbsent(ctx, tx,
		"INSERT OR IGNORE INTO contacts (email, name) VALUES (?, ?)",
		addr.Email, addr.Name,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting contact %s: %w", addr.Email, err)
	}
	if !created {
		s.logger.Debug("duplicate contact", "name", addr.Name, "email", addr.Email)
	}

	var cid int64
	if err := tx.GetContext(ctx, &cid, "SELECT id FROM contacts WHERE email = ?", addr.Email); err != nil {
		return 0, fmt.Errorf("looking up contact %s: %w", addr.Email, err)
	}
	return cid, nil
}

// AddAttachment records an attachment and links it to its email, both insert
// if absent, in one transaction. sourceName is cut to MaxSourceNameLength. It
// reports whether the attachment row is new.
func (s *Store) AddAttachment(
	ctx context.Context,
	emailID, attachmentID, sourceName string,
	size int64,
	mime string,
) (bool, error) {
	if err := validateKey("email id", emailID); err != nil {
		return false, err
	}
	if err := validateKey("attachment id", attachmentID); err != nil {
		return false, err
	}
	if err := validateText("source name", sourceName); err != nil {
		return false, err
	}
	if err := validateText("mime", mime); err != nil {
		return false, err
	}
	if size < 0 {
		return false, fmt.Errorf("%w: negative size %d", ErrInvalidRecord, size)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	created, err := insertIfAbsent(ctx, tx,
		"INSERT OR IGNORE INTO attachments (id, source_name, size, mime) VALUES (?, ?, ?, ?)",
		attachmentID, truncate(sourceName, MaxSourceNameLength), size, mime,
	)
	if err != nil {
		return false, fmt.Errorf("inserting attachment %s: %w", attachmentID, err)
	}
	if !created {
		s.logger.Debug("duplicate attachment", "id", attachmentID)
	}

	linked, err := insertIfAbsent(ctx, tx,
		"INSERT OR IGNORE INTO mail_to_attachment (mail_id, attachment_id) VALUES (?, ?)",
		emailID, attachmentID,
	)
	if err != nil {
		return false, fmt.Errorf("linking attachment %s to email %s: %w", attachmentID, emailID, err)
	}
	if !linked {
		s.logger.Debug("duplicate relation", "mailID", emailID, "attachmentID", attachmentID)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing attachment %s: %w", attachmentID, err)
	}
	return created, nil
}

// Counts returns the number of rows in every table.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.GetContext(ctx, &c, `
		SELECT
			(SELECT COUNT(*) FROM emails)             AS emails,
			(SELECT COUNT(*) FROM attachments)        AS attachments,
			(SELECT COUNT(*) FROM contacts)           AS contacts,
			(SELECT COUNT(*) FROM contact_to_mail)    AS contact_links,
			(SELECT COUNT(*) FROM mail_to_attachment) AS attachment_links`)
	if err != nil {
		return Counts{}, fmt.Errorf("counting rows: %w", err)
	}
	return c, nil
}

// OrphanLinks returns the number of link rows whose email, contact or
// attachment row is missing. It is zero for a consistent database.
func (s *Store) OrphanLinks(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT
			(SELECT COUNT(*) FROM contact_to_mail l
				WHERE NOT EXISTS (SELECT 1 FROM emails e WHERE e.id = l.mail_id)
				   OR NOT EXISTS (SELECT 1 FROM contacts c WHERE c.id = l.contact_id))
			+
			(SELECT COUNT(*) FROM mail_to_attachment l
				WHERE NOT EXISTS (SELECT 1 FROM emails e WHERE e.id = l.mail_id)
				   OR NOT EXISTS (SELECT 1 FROM attachments a WHERE a.id = l.attachment_id))`)
	if err != nil {
		return 0, fmt.Errorf("counting orphan links: %w", err)
	}
	return n, nil
}

func validateEmail(id string, from, to []model.Address, subject string) error {
	if err := validateKey("email id", id); err != nil {
		return err
	}
	if err := validateText("subject", subject); err != nil {
		return err
	}
	for _, list := range [][]model.Address{from, to} {
		for _, addr := range list {
			if strings.TrimSpace(addr.Email) == "" {
				return fmt.Errorf("%w: empty contact address", ErrInvalidRecord)
			}
			if err := validateText("contact address", addr.Email); err != nil {
				return err
			}
			if err := validateText("contact name", addr.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateKey(field, key string) error {
	if key == "" || len(key) > maxKeyLength {
		return fmt.Errorf("%w: %s %q", ErrInvalidRecord, field, key)
	}
	return validateText(field, key)
}

func validateText(field, value string) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidRecord, field)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%w: %s contains NUL", ErrInvalidRecord, field)
	}
	return nil
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
