// Package store persists engine snapshots to SQLite so a run can resume
// from the last durable tick. Snapshots are full-state: nodes, links,
// entities, memberships, and relations keyed by snapshot id.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adalundhe/cascade/core/graph"
)

const (
	// MinOpenConns and MaxOpenConnsLimit bound connection-pool settings.
	MinOpenConns      = 1
	MaxOpenConnsLimit = 64
)

// DBConfig configures the snapshot database.
type DBConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// KeepSnapshots is how many snapshots Prune retains, newest first.
	KeepSnapshots int `yaml:"keep_snapshots"`
}

// DefaultDBConfig returns snapshot-store defaults for the given path.
func DefaultDBConfig(path string) DBConfig {
	return DBConfig{
		Path:            path,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		KeepSnapshots:   8,
	}
}

// Validate checks the configuration values.
func (c DBConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("snapshot config: path is required")
	}
	if c.MaxOpenConns < MinOpenConns || c.MaxOpenConns > MaxOpenConnsLimit {
		return fmt.Errorf("snapshot config: MaxOpenConns must be between %d and %d, got %d",
			MinOpenConns, MaxOpenConnsLimit, c.MaxOpenConns)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("snapshot config: MaxIdleConns (%d) cannot exceed MaxOpenConns (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tick       INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_nodes (
	snapshot_id   INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	id            TEXT NOT NULL,
	class         TEXT NOT NULL,
	energy        REAL NOT NULL,
	base_weight   REAL NOT NULL,
	threshold     REAL NOT NULL,
	embedding     BLOB,
	last_modified INTEGER NOT NULL,
	PRIMARY KEY (snapshot_id, id)
);

CREATE TABLE IF NOT EXISTS snapshot_links (
	snapshot_id        INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	source             TEXT NOT NULL,
	target             TEXT NOT NULL,
	link_type          TEXT NOT NULL,
	weight             REAL NOT NULL,
	last_strengthened  INTEGER NOT NULL,
	PRIMARY KEY (snapshot_id, source, target)
);

CREATE TABLE IF NOT EXISTS snapshot_entities (
	snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (snapshot_id, id)
);

CREATE TABLE IF NOT EXISTS snapshot_memberships (
	snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	node_id     TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	weight      REAL NOT NULL,
	PRIMARY KEY (snapshot_id, node_id, entity_id)
);

CREATE TABLE IF NOT EXISTS snapshot_relations (
	snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	source      TEXT NOT NULL,
	target      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (snapshot_id, source, target)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_tick ON snapshots(tick);
`

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	ID        int64
	Tick      uint64
	CreatedAt time.Time
}

// SnapshotDB is the SQLite-backed snapshot store.
type SnapshotDB struct {
	mu   sync.Mutex
	db   *sql.DB
	cfg  DBConfig
	path string
}

// Open opens the snapshot database with default configuration.
func Open(path string) (*SnapshotDB, error) {
	return OpenWithConfig(DefaultDBConfig(path))
}

// OpenWithConfig opens the snapshot database with the given configuration.
func OpenWithConfig(cfg DBConfig) (*SnapshotDB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_synchronous=normal", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db at %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping snapshot db at %s: %w", cfg.Path, err)
	}

	s := &SnapshotDB{db: db, cfg: cfg, path: cfg.Path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate snapshot db at %s: %w", cfg.Path, err)
	}
	return s, nil
}

// Close closes the database.
func (s *SnapshotDB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies the schema. Idempotent.
func (s *SnapshotDB) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema on %s: %w", s.path, err)
	}
	return nil
}

// Save writes a full snapshot of the graph state in one transaction and
// returns its id.
func (s *SnapshotDB) Save(tick uint64, g *graph.Store) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO snapshots (tick, created_at) VALUES (?, ?)",
		int64(tick), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("snapshot insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	if err := saveNodes(tx, id, g); err != nil {
		return 0, err
	}
	if err := saveLinks(tx, id, g); err != nil {
		return 0, err
	}
	if err := saveEntities(tx, id, g); err != nil {
		return 0, err
	}
	if err := saveRelations(tx, id, g); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("snapshot commit: %w", err)
	}
	return id, nil
}

func saveNodes(tx *sql.Tx, id int64, g *graph.Store) error {
	stmt, err := tx.Prepare(`INSERT INTO snapshot_nodes
		(snapshot_id, id, class, energy, base_weight, threshold, embedding, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare nodes: %w", err)
	}
	defer stmt.Close()

	var failure error
	g.ForEachNode(func(n *graph.Node) {
		if failure != nil {
			return
		}
		emb, err := encodeEmbedding(n.Embedding)
		if err != nil {
			failure = err
			return
		}
		if _, err := stmt.Exec(id, n.ID, n.Class.String(), n.Energy, n.BaseWeight,
			n.Threshold, emb, int64(n.LastModified)); err != nil {
			failure = fmt.Errorf("save node %s: %w", n.ID, err)
		}
	})
	return failure
}

func saveLinks(tx *sql.Tx, id int64, g *graph.Store) error {
	stmt, err := tx.Prepare(`INSERT INTO snapshot_links
		(snapshot_id, source, target, link_type, weight, last_strengthened)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare links: %w", err)
	}
	defer stmt.Close()

	var failure error
	g.ForEachLink(func(l *graph.Link) {
		if failure != nil {
			return
		}
		if _, err := stmt.Exec(id, l.Source, l.Target, l.Type.String(),
			l.Weight, int64(l.LastStrengthened)); err != nil {
			failure = fmt.Errorf("save link %s->%s: %w", l.Source, l.Target, err)
		}
	})
	return failure
}

func saveEntities(tx *sql.Tx, id int64, g *graph.Store) error {
	entStmt, err := tx.Prepare(
		"INSERT INTO snapshot_entities (snapshot_id, id, payload) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare entities: %w", err)
	}
	defer entStmt.Close()

	memStmt, err := tx.Prepare(`INSERT INTO snapshot_memberships
		(snapshot_id, node_id, entity_id, weight) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare memberships: %w", err)
	}
	defer memStmt.Close()

	var failure error
	g.ForEachEntity(func(e *graph.Entity) {
		if failure != nil {
			return
		}
		payload, err := json.Marshal(e)
		if err != nil {
			failure = fmt.Errorf("marshal entity %s: %w", e.ID, err)
			return
		}
		if _, err := entStmt.Exec(id, e.ID, string(payload)); err != nil {
			failure = fmt.Errorf("save entity %s: %w", e.ID, err)
			return
		}
		for _, m := range g.MembersOf(e.ID) {
			if _, err := memStmt.Exec(id, m.NodeID, m.EntityID, m.Weight); err != nil {
				failure = fmt.Errorf("save membership %s/%s: %w", m.NodeID, m.EntityID, err)
				return
			}
		}
	})
	return failure
}

func saveRelations(tx *sql.Tx, id int64, g *graph.Store) error {
	stmt, err := tx.Prepare(
		"INSERT INTO snapshot_relations (snapshot_id, source, target, payload) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare relations: %w", err)
	}
	defer stmt.Close()

	var failure error
	g.ForEachRelation(func(r *graph.EntityRelation) {
		if failure != nil {
			return
		}
		payload, err := json.Marshal(r)
		if err != nil {
			failure = fmt.Errorf("marshal relation %s->%s: %w", r.Source, r.Target, err)
			return
		}
		if _, err := stmt.Exec(id, r.Source, r.Target, string(payload)); err != nil {
			failure = fmt.Errorf("save relation %s->%s: %w", r.Source, r.Target, err)
		}
	})
	return failure
}

// Latest returns the most recent snapshot info, or false when none exist.
func (s *SnapshotDB) Latest() (SnapshotInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		"SELECT id, tick, created_at FROM snapshots ORDER BY id DESC LIMIT 1")
	var info SnapshotInfo
	var created string
	if err := row.Scan(&info.ID, &info.Tick, &created); err != nil {
		if err == sql.ErrNoRows {
			return SnapshotInfo{}, false, nil
		}
		return SnapshotInfo{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err == nil {
		info.CreatedAt = t
	}
	return info, true, nil
}

// List returns stored snapshots newest first.
func (s *SnapshotDB) List() ([]SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT id, tick, created_at FROM snapshots ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var created string
		if err := rows.Scan(&info.ID, &info.Tick, &created); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			info.CreatedAt = t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Load reconstructs a graph store from the given snapshot.
func (s *SnapshotDB) Load(snapshotID int64) (*graph.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := graph.NewStore()

	if err := s.loadNodes(snapshotID, g); err != nil {
		return nil, err
	}
	if err := s.loadLinks(snapshotID, g); err != nil {
		return nil, err
	}
	if err := s.loadEntities(snapshotID, g); err != nil {
		return nil, err
	}
	if err := s.loadMemberships(snapshotID, g); err != nil {
		return nil, err
	}
	if err := s.loadRelations(snapshotID, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *SnapshotDB) loadNodes(snapshotID int64, g *graph.Store) error {
	rows, err := s.db.Query(`SELECT id, class, energy, base_weight, threshold,
		embedding, last_modified FROM snapshot_nodes WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n        graph.Node
			class    string
			emb      []byte
			modified int64
		)
		if err := rows.Scan(&n.ID, &class, &n.Energy, &n.BaseWeight,
			&n.Threshold, &emb, &modified); err != nil {
			return fmt.Errorf("scan node: %w", err)
		}
		nc, err := graph.ParseNodeClass(class)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		n.Class = nc
		n.Embedding = decodeEmbedding(emb)
		n.LastModified = uint64(modified)
		if err := g.AddNode(&n); err != nil {
			return fmt.Errorf("restore node %s: %w", n.ID, err)
		}
	}
	return rows.Err()
}

func (s *SnapshotDB) loadLinks(snapshotID int64, g *graph.Store) error {
	rows, err := s.db.Query(`SELECT source, target, link_type, weight,
		last_strengthened FROM snapshot_links WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l        graph.Link
			linkType string
			at       int64
		)
		if err := rows.Scan(&l.Source, &l.Target, &linkType, &l.Weight, &at); err != nil {
			return fmt.Errorf("scan link: %w", err)
		}
		lt, err := graph.ParseLinkType(linkType)
		if err != nil {
			return fmt.Errorf("link %s->%s: %w", l.Source, l.Target, err)
		}
		l.Type = lt
		l.LastStrengthened = uint64(at)
		if err := g.AddLink(&l); err != nil {
			return fmt.Errorf("restore link %s->%s: %w", l.Source, l.Target, err)
		}
	}
	return rows.Err()
}

func (s *SnapshotDB) loadEntities(snapshotID int64, g *graph.Store) error {
	rows, err := s.db.Query(
		"SELECT payload FROM snapshot_entities WHERE snapshot_id = ?", snapshotID)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan entity: %w", err)
		}
		var e graph.Entity
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return fmt.Errorf("unmarshal entity: %w", err)
		}
		if err := g.AddEntity(&e); err != nil {
			return fmt.Errorf("restore entity %s: %w", e.ID, err)
		}
	}
	return rows.Err()
}

func (s *SnapshotDB) loadMemberships(snapshotID int64, g *graph.Store) error {
	rows, err := s.db.Query(`SELECT node_id, entity_id, weight
		FROM snapshot_memberships WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return fmt.Errorf("load memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			nodeID, entityID string
			weight           float64
		)
		if err := rows.Scan(&nodeID, &entityID, &weight); err != nil {
			return fmt.Errorf("scan membership: %w", err)
		}
		if err := g.SetMembership(nodeID, entityID, weight); err != nil {
			return fmt.Errorf("restore membership %s/%s: %w", nodeID, entityID, err)
		}
	}
	return rows.Err()
}

func (s *SnapshotDB) loadRelations(snapshotID int64, g *graph.Store) error {
	rows, err := s.db.Query(
		"SELECT payload FROM snapshot_relations WHERE snapshot_id = ?", snapshotID)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan relation: %w", err)
		}
		var r graph.EntityRelation
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return fmt.Errorf("unmarshal relation: %w", err)
		}
		g.PutRelation(&r)
	}
	return rows.Err()
}

// Prune deletes all but the newest KeepSnapshots snapshots.
func (s *SnapshotDB) Prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := s.cfg.KeepSnapshots
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE id NOT IN
		(SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}
