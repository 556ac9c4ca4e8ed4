// Package graphstore is a small graph-fact store: key/value facts persisted
// in SQLite, linked by typed edges, and searchable through an in-process
// vector index.
package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"unimem/internal/logging"
	"unimem/internal/store"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

var (
	// ErrNotConnected is returned by operations on a disconnected store.
	ErrNotConnected = errors.New("graph store not connected")

	// ErrNotFound is returned for unknown fact ids.
	ErrNotFound = errors.New("fact not found")
)

// Node is a stored fact.
type Node struct {
	ID        string                 `json:"id"`
	Key       string                 `json:"key"`
	Value     string                 `json:"value"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Text is what the semantic index sees for a node.
func (n Node) Text() string {
	if n.Key == "" {
		return n.Value
	}
	return n.Key + " " + n.Value
}

// Match is a search hit. Score is cosine similarity.
type Match struct {
	Node  Node
	Score float64
}

// Stats summarizes the store.
type Stats struct {
	TotalMemories int       `json:"total_memories"`
	TotalLinks    int       `json:"total_links"`
	NewestMemory  time.Time `json:"newest_memory,omitempty"`
}

// Options configures a Store.
type Options struct {
	// Path of the SQLite database; "" or ":memory:" for in-memory.
	Path     string
	Embedder Embedder
	Logger   *logging.Logger
	Now      func() time.Time
}

const schemaFacts = `
CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL
)`

const schemaFactsKeyIndex = `CREATE INDEX IF NOT EXISTS idx_facts_key ON facts(key)`

const schemaLinks = `
CREATE TABLE IF NOT EXISTS fact_links (
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (from_id, to_id, relation)
)`

const schemaLinksToIndex = `CREATE INDEX IF NOT EXISTS idx_fact_links_to ON fact_links(to_id)`

const collectionName = "facts"

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the graph-fact store.
type Store struct {
	mu       sync.RWMutex
	opts     Options
	log      *logging.Logger
	embedder Embedder

	db  *sql.DB
	vdb *chromem.DB
	col *chromem.Collection
}

// New creates a disconnected store.
func New(opts Options) *Store {
	if opts.Embedder == nil {
		opts.Embedder = NewHashingEmbedder(defaultDimensions)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		opts:     opts,
		log:      opts.Logger.For(logging.CategoryGraph),
		embedder: opts.Embedder,
	}
}

// Connect opens the database and rebuilds the semantic index from it.
// Connecting an already connected store is a no-op.
func (s *Store) Connect(ctx context.Context) error {
	timer := s.log.StartTimer("graphstore.Connect")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := store.Open(ctx, s.opts.Path, s.log, schemaFacts, schemaFactsKeyIndex, schemaLinks, schemaLinksToIndex)
	if err != nil {
		return err
	}

	vdb := chromem.NewDB()
	col, err := vdb.CreateCollection(collectionName, nil, nil)
	if err != nil {
		db.Close()
		return fmt.Errorf("create collection: %w", err)
	}

	s.db, s.vdb, s.col = db, vdb, col
	n, err := s.reindexLocked(ctx)
	if err != nil {
		s.db.Close()
		s.db, s.vdb, s.col = nil, nil, nil
		return err
	}
	s.log.Info("Graph store connected (%d facts indexed)", n)
	return nil
}

func (s *Store) reindexLocked(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, key, value, metadata, created_at FROM facts`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan facts: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			s.log.Warn("Skipping unreadable fact: %v", err)
			continue
		}
		if err := s.indexLocked(ctx, node); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

func (s *Store) indexLocked(ctx context.Context, node Node) error {
	emb := s.embedder.Embed(node.Text())
	if isZero(emb) {
		s.log.Debug("Fact %s has no indexable text", node.ID)
		return nil
	}
	err := s.col.AddDocument(ctx, chromem.Document{
		ID:        node.ID,
		Content:   node.Text(),
		Embedding: emb,
		Metadata:  map[string]string{"key": node.Key},
	})
	if err != nil {
		return fmt.Errorf("index fact %s: %w", node.ID, err)
	}
	return nil
}

// Connected reports whether Connect has succeeded.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// Disconnect closes the database and drops the index.
func (s *Store) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db, s.vdb, s.col = nil, nil, nil
	s.log.Info("Graph store disconnected")
	return err
}

// AddFact stores a fact and indexes it.
func (s *Store) AddFact(ctx context.Context, key, value string, metadata map[string]interface{}) (Node, error) {
	if strings.TrimSpace(value) == "" {
		return Node{}, fmt.Errorf("fact value must be non-empty")
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return Node{}, fmt.Errorf("failed to marshal fact metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return Node{}, ErrNotConnected
	}

	node := Node{
		ID:        uuid.New().String(),
		Key:       key,
		Value:     value,
		Metadata:  metadata,
		CreatedAt: s.opts.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO facts (id, key, value, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		node.ID, node.Key, node.Value, string(metaJSON), node.CreatedAt.Format(timeLayout))
	if err != nil {
		s.log.Error("Failed to store fact: %v", err)
		return Node{}, fmt.Errorf("failed to store fact: %w", err)
	}
	if err := s.indexLocked(ctx, node); err != nil {
		s.log.Warn("Fact %s stored but not indexed: %v", node.ID, err)
	}
	s.log.Debug("Stored fact %s key=%q", node.ID, key)
	return node, nil
}

// Link adds a directed, typed edge. Duplicate edges are ignored.
func (s *Store) Link(ctx context.Context, fromID, toID, relation string) error {
	if fromID == "" || toID == "" || relation == "" {
		return fmt.Errorf("invalid fact link: from/to/relation must be non-empty")
	}
	if fromID == toID {
		return fmt.Errorf("invalid fact link: self-loop on %s", fromID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotConnected
	}
	for _, id := range []string{fromID, toID} {
		if _, err := s.getLocked(ctx, id); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fact_links (from_id, to_id, relation, created_at) VALUES (?, ?, ?, ?)`,
		fromID, toID, relation, s.opts.Now().UTC().Format(timeLayout))
	if err != nil {
		s.log.Error("Failed to store fact link: %v", err)
		return fmt.Errorf("failed to store fact link: %w", err)
	}
	s.log.Debug("Linked %s -[%s]-> %s", fromID, relation, toID)
	return nil
}

// Get returns a fact by id.
func (s *Store) Get(ctx context.Context, id string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return Node{}, ErrNotConnected
	}
	return s.getLocked(ctx, id)
}

func (s *Store) getLocked(ctx context.Context, id string) (Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, key, value, metadata, created_at FROM facts WHERE id = ?`, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return node, err
}

// Search returns up to limit facts most similar to text, best first.
func (s *Store) Search(ctx context.Context, text string, limit int) ([]Match, error) {
	timer := s.log.StartTimer("graphstore.Search")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}

	emb := s.embedder.Embed(text)
	if isZero(emb) || limit <= 0 {
		return nil, nil
	}
	// chromem-go requires nResults <= collection size.
	n := limit
	if c := s.col.Count(); c < n {
		n = c
	}
	if n == 0 {
		return nil, nil
	}

	hits, err := s.col.QueryEmbedding(ctx, emb, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		node, err := s.getLocked(ctx, h.ID)
		if err != nil {
			s.log.Debug("Indexed fact %s missing from table: %v", h.ID, err)
			continue
		}
		matches = append(matches, Match{Node: node, Score: float64(h.Similarity)})
	}
	return matches, nil
}

// GetRelated walks links in both directions up to depth edges from id and
// returns every fact reached, nearest first and ordered by id within a
// layer. The start fact is excluded.
func (s *Store) GetRelated(ctx context.Context, id string, depth int) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	if depth <= 0 {
		return nil, nil
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var out []Node
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, cur := range frontier {
			ids, err := s.linkedIDsLocked(ctx, cur)
			if err != nil {
				return out, err
			}
			for _, nid := range ids {
				if visited[nid] {
					continue
				}
				visited[nid] = true
				node, err := s.getLocked(ctx, nid)
				if err != nil {
					s.log.Debug("Dangling link to %s: %v", nid, err)
					continue
				}
				out = append(out, node)
				next = append(next, nid)
			}
		}
		frontier = next
	}
	return out, nil
}

func (s *Store) linkedIDsLocked(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_id FROM fact_links WHERE from_id = ?
		UNION ALL
		SELECT from_id FROM fact_links WHERE to_id = ?
		ORDER BY 1`, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var nid string
		if err := rows.Scan(&nid); err != nil {
			return nil, err
		}
		ids = append(ids, nid)
	}
	return ids, rows.Err()
}

// Stats reports fact and link counts and the newest fact's creation time.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return Stats{}, ErrNotConnected
	}

	var st Stats
	var newest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(created_at) FROM facts`).Scan(&st.TotalMemories, &newest); err != nil {
		return Stats{}, fmt.Errorf("failed to count facts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fact_links`).Scan(&st.TotalLinks); err != nil {
		return Stats{}, fmt.Errorf("failed to count links: %w", err)
	}
	if newest.Valid {
		st.NewestMemory, _ = time.Parse(timeLayout, newest.String)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row scanner) (Node, error) {
	var (
		node    Node
		meta    sql.NullString
		created string
	)
	if err := row.Scan(&node.ID, &node.Key, &node.Value, &meta, &created); err != nil {
		return Node{}, err
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &node.Metadata); err != nil {
			return Node{}, fmt.Errorf("failed to decode metadata for %s: %w", node.ID, err)
		}
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Node{}, fmt.Errorf("bad created_at for %s: %w", node.ID, err)
	}
	node.CreatedAt = t
	return node, nil
}
