package graph

// Relationship types used across the knowledge graph.
const (
	RelHasFile       = "HAS_FILE"
	RelBelongsTo     = "BELONGS_TO"
	RelChildOf       = "CHILD_OF"
	RelNearDuplicate = "NEAR_DUPLICATE"
	RelVersionChain  = "VERSION_CHAIN"
	RelHasTranscript = "HAS_TRANSCRIPT"
	RelDerivedFrom   = "DERIVED_FROM"
	RelAttachment    = "ATTACHMENT"
	RelSentBy        = "SENT_BY"
	RelReceivedBy    = "RECEIVED_BY"
)

// Node kinds. Keys are globally unique across kinds (document IDs embed
// their source, block IDs embed their page, entity IDs embed their kind).
const (
	KindDocument   = "document"
	KindPage       = "page"
	KindBlock      = "block"
	KindFile       = "file"
	KindEmail      = "email"
	KindImage      = "image"
	KindAudio      = "audio"
	KindTranscript = "transcript"
	KindPerson     = "person"
	KindOrg        = "org"
	KindProject    = "project"
	KindPlace      = "place"
	KindEvent      = "event"
	KindTopic      = "topic"
)

// textIndexedKinds feed documentTextFulltext from their "text" prop.
var textIndexedKinds = map[string]bool{
	KindDocument: true,
	KindPage:     true,
	KindBlock:    true,
}

// entityIndexedKinds feed entityNameFulltext from their "name" prop.
var entityIndexedKinds = map[string]bool{
	KindPerson:  true,
	KindOrg:     true,
	KindProject: true,
	KindPlace:   true,
	KindEvent:   true,
	KindTopic:   true,
}

// schemaSQL is the DDL for the property graph and its fulltext indexes.
// The FTS tables are maintained explicitly inside the write paths rather
// than by triggers, because rows are keyed by node key, not rowid.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    key TEXT NOT NULL UNIQUE,
    props JSON,
    system_from DATETIME,
    system_to DATETIME
);

CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    src INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    rel TEXT NOT NULL,
    dst INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    props JSON,
    UNIQUE(src, rel, dst)
);

CREATE VIRTUAL TABLE IF NOT EXISTS documentTextFulltext USING fts5(
    node_key UNINDEXED,
    text,
    tokenize='porter unicode61'
);

CREATE VIRTUAL TABLE IF NOT EXISTS entityNameFulltext USING fts5(
    node_key UNINDEXED,
    name,
    tokenize='porter unicode61'
);

CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);
CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst);
CREATE INDEX IF NOT EXISTS idx_edges_rel ON edges(rel);
`
