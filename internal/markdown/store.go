package markdown

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"unimem/internal/logging"

	"github.com/bmatcuk/doublestar/v4"
)

// FilePattern selects the files the store indexes, relative to the root.
const FilePattern = "{wins,decisions,learnings,context}/**/*.md"

// ErrUnknownFolder is returned when appending to a folder the store does not
// manage.
var ErrUnknownFolder = errors.New("unknown markdown folder")

// Options configures a Store.
type Options struct {
	Root   string
	Logger *logging.Logger
	Now    func() time.Time
}

// Scored is a search hit.
type Scored struct {
	Entry Entry
	Score float64
}

// Store indexes the entries of every markdown file under the root.
type Store struct {
	root string
	log  *logging.Logger
	now  func() time.Time

	mu       sync.RWMutex
	files    map[string][]Entry // slash path relative to root -> entries
	lastSync time.Time
	writeMu  sync.Mutex
}

// New creates a store rooted at opts.Root. Call Load to index it.
func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		root:  opts.Root,
		log:   opts.Logger.For(logging.CategoryMarkdown),
		now:   opts.Now,
		files: make(map[string][]Entry),
	}
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Load creates the folder layout if needed and indexes every matching file.
func (s *Store) Load(ctx context.Context) error {
	timer := s.log.StartTimer("markdown.Load")
	defer timer.Stop()

	if s.root == "" {
		return fmt.Errorf("markdown root not configured")
	}
	for _, f := range Folders {
		if err := os.MkdirAll(filepath.Join(s.root, f), 0755); err != nil {
			s.log.Error("Failed to create %s: %v", f, err)
			return fmt.Errorf("failed to create markdown folder: %w", err)
		}
	}

	matches, err := doublestar.Glob(os.DirFS(s.root), FilePattern)
	if err != nil {
		return fmt.Errorf("failed to list markdown files: %w", err)
	}

	files := make(map[string][]Entry, len(matches))
	total := 0
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := s.parseFile(rel)
		if err != nil {
			s.log.Warn("Skipping %s: %v", rel, err)
			continue
		}
		files[rel] = entries
		total += len(entries)
	}

	s.mu.Lock()
	s.files = files
	s.lastSync = s.now()
	s.mu.Unlock()

	s.log.Info("Indexed %d entries from %d markdown files", total, len(files))
	return nil
}

func (s *Store) parseFile(rel string) ([]Entry, error) {
	path := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(rel, string(data), info.ModTime().UTC()), nil
}

// Matches reports whether rel (slash separated, relative to the root) is a
// file the store indexes.
func Matches(rel string) bool {
	ok, err := doublestar.Match(FilePattern, rel)
	return err == nil && ok
}

// ReloadFile re-indexes one file, dropping it when it no longer exists.
func (s *Store) ReloadFile(rel string) error {
	rel = filepath.ToSlash(rel)
	if !Matches(rel) {
		return nil
	}
	entries, err := s.parseFile(rel)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to reload %s: %w", rel, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		delete(s.files, rel)
		s.log.Debug("Dropped %s from index", rel)
	} else {
		s.files[rel] = entries
		s.log.Debug("Reloaded %s (%d entries)", rel, len(entries))
	}
	s.lastSync = s.now()
	return nil
}

// Entries returns every indexed entry ordered by file then line.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesLocked()
}

func (s *Store) entriesLocked() []Entry {
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []Entry
	for _, name := range names {
		out = append(out, s.files[name]...)
	}
	return out
}

// Count returns the number of indexed entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, entries := range s.files {
		n += len(entries)
	}
	return n
}

// LastSync returns when the index last changed.
func (s *Store) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// Search scores entries by the fraction of query terms they contain and
// returns up to limit hits, best first. Entries with no overlap are omitted.
func (s *Store) Search(text string, limit int) []Scored {
	query := terms(text)
	if len(query) == 0 {
		return nil
	}

	s.mu.RLock()
	entries := s.entriesLocked()
	s.mu.RUnlock()

	var hits []Scored
	for _, e := range entries {
		have := terms(e.Text() + " " + metaText(e.Meta))
		matched := 0
		for t := range query {
			if _, ok := have[t]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, Scored{Entry: e, Score: float64(matched) / float64(len(query))})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func metaText(meta map[string]string) string {
	parts := make([]string, 0, len(meta))
	for _, v := range meta {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "were": true,
	"with": true, "that": true, "this": true, "from": true, "what": true,
	"when": true, "why": true, "how": true, "did": true, "does": true, "have": true,
	"has": true, "not": true, "but": true, "you": true, "our": true, "all": true,
}

func terms(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// Append writes a new entry to today's file in folder and indexes it.
func (s *Store) Append(ctx context.Context, folder, title string, meta map[string]string, body string) (Entry, error) {
	if !knownFolder(folder) {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}
	if strings.TrimSpace(title) == "" {
		return Entry{}, fmt.Errorf("entry title must be non-empty")
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now().UTC()
	meta = copyMeta(meta)
	if _, ok := meta[KeyDate]; !ok {
		meta[KeyDate] = now.Format(time.RFC3339)
	}

	rel := folder + "/" + now.Format("2006-01-02") + ".md"
	path := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Entry{}, fmt.Errorf("failed to create markdown folder: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		s.log.Error("Failed to open %s: %v", rel, err)
		return Entry{}, fmt.Errorf("failed to open %s: %w", rel, err)
	}
	info, err := f.Stat()
	if err == nil && info.Size() == 0 {
		_, err = fmt.Fprintf(f, "# %s %s\n", folder, now.Format("2006-01-02"))
	}
	if err == nil {
		_, err = f.WriteString("\n" + Format(title, meta, body))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.log.Error("Failed to append to %s: %v", rel, err)
		return Entry{}, fmt.Errorf("failed to append to %s: %w", rel, err)
	}

	if err := s.ReloadFile(rel); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	entries := s.files[rel]
	s.mu.RUnlock()
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("appended entry not found in %s", rel)
	}
	e := entries[len(entries)-1]
	s.log.Debug("Appended %q to %s", e.Title, rel)
	return e, nil
}

func knownFolder(folder string) bool {
	for _, f := range Folders {
		if f == folder {
			return true
		}
	}
	return false
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
