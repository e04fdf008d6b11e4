package metadata

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Versions must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id      VARCHAR(64)  NOT NULL,
	subject VARCHAR(250) NOT NULL DEFAULT '',
	dt      INTEGER,
	PRIMARY KEY (id)
);

CREATE TABLE IF NOT EXISTS attachments (
	id          VARCHAR(64)  NOT NULL,
	source_name VARCHAR(250) NOT NULL DEFAULT '',
	mime        VARCHAR(40)  NOT NULL DEFAULT '',
	size        INTEGER      NOT NULL,
	PRIMARY KEY (id)
);

CREATE TABLE IF NOT EXISTS contacts (
	id    INTEGER PRIMARY KEY,
	email VARCHAR(128) NOT NULL UNIQUE,
	name  VARCHAR(250)
);

CREATE TABLE IF NOT EXISTS contact_to_mail (
	mail_id    VARCHAR(64) NOT NULL REFERENCES emails(id),
	contact_id INTEGER     NOT NULL REFERENCES contacts(id),
	is_sender  BOOL        NOT NULL,
	UNIQUE (mail_id, contact_id, is_sender)
);

CREATE TABLE IF NOT EXISTS mail_to_attachment (
	mail_id       VARCHAR(64) NOT NULL REFERENCES emails(id),
	attachment_id VARCHAR(64) NOT NULL REFERENCES attachments(id),
	UNIQUE (mail_id, attachment_id)
);

CREATE INDEX IF NOT EXISTS index_emails ON contacts(email);
CREATE INDEX IF NOT EXISTS index_dates ON emails(dt);
CREATE INDEX IF NOT EXISTS index_attachment_type ON attachments(mime);
CREATE INDEX IF NOT EXISTS index_attachment_size ON attachments(size);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
