package sqlite

// schema creates the two tables backing a RevisionStore: revisions
// (the DAG, self-referencing on parent_rev_id) and attachments (keyed by
// the sequence of the revision that carries them). This mirrors CouchDB's
// own revision-tree / attachment split, not a generic KV blob.
const schema = `
CREATE TABLE IF NOT EXISTS revisions (
	doc_id        TEXT NOT NULL,
	rev_id        TEXT NOT NULL,
	generation    INTEGER NOT NULL,
	parent_rev_id TEXT NOT NULL DEFAULT '',
	deleted       INTEGER NOT NULL DEFAULT 0,
	body          TEXT NOT NULL DEFAULT '{}',
	sequence      INTEGER NOT NULL,
	PRIMARY KEY (doc_id, rev_id)
);

CREATE INDEX IF NOT EXISTS idx_revisions_doc_parent ON revisions(doc_id, parent_rev_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_revisions_sequence ON revisions(doc_id, sequence);

CREATE TABLE IF NOT EXISTS attachments (
	sequence       INTEGER NOT NULL,
	filename       TEXT NOT NULL,
	mime_type      TEXT NOT NULL DEFAULT '',
	length         INTEGER NOT NULL DEFAULT 0,
	rev_pos        INTEGER NOT NULL DEFAULT 0,
	encoding       TEXT NOT NULL DEFAULT '',
	encoded_length INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (sequence, filename)
);

CREATE TABLE IF NOT EXISTS doc_sequence (
	doc_id TEXT PRIMARY KEY,
	next   INTEGER NOT NULL DEFAULT 1
);
`
