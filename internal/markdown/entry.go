// Package markdown is the flat-file memory store: a directory of markdown
// files under fixed folders, where each "### Title" heading starts an entry
// followed by "- **Key:** value" metadata lines and free body text.
package markdown

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Folder names under the store root.
const (
	FolderWins      = "wins"
	FolderDecisions = "decisions"
	FolderLearnings = "learnings"
	FolderContext   = "context"
)

// Folders lists every folder the store manages.
var Folders = []string{FolderWins, FolderDecisions, FolderLearnings, FolderContext}

// Well-known entry metadata keys.
const (
	KeyDate = "Date"
	KeyType = "Type"
	KeyKey  = "Key"
)

// Entry is one "### Title" section of a markdown file.
type Entry struct {
	ID     string            `json:"id"`
	Folder string            `json:"folder"`
	File   string            `json:"file"` // slash path relative to the root
	Line   int               `json:"line"` // 1-based heading line
	Title  string            `json:"title"`
	Meta   map[string]string `json:"meta,omitempty"`
	Body   string            `json:"body"`

	CreatedAt time.Time `json:"created_at"`
}

// Text is the searchable text of the entry.
func (e Entry) Text() string {
	if e.Body == "" {
		return e.Title
	}
	return e.Title + "\n" + e.Body
}

var (
	entryHeading = regexp.MustCompile(`^###\s+(.+?)\s*$`)
	otherHeading = regexp.MustCompile(`^#{1,2}\s`)
	metaLine     = regexp.MustCompile(`^\s*[-*]\s+\*\*([^*:]+):\*\*\s*(.*?)\s*$`)
)

// Parse splits a file's content into entries. fallback stamps entries that
// carry no Date metadata.
func Parse(file, content string, fallback time.Time) []Entry {
	folder := strings.SplitN(file, "/", 2)[0]

	var (
		entries []Entry
		cur     *Entry
		body    []string
		inMeta  bool
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimSpace(strings.Join(body, "\n"))
		cur.CreatedAt = entryTime(cur.Meta, fallback)
		cur.ID = entryID(file, cur.Title, len(entries))
		entries = append(entries, *cur)
		cur, body = nil, nil
	}

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if m := entryHeading.FindStringSubmatch(text); m != nil {
			flush()
			cur = &Entry{Folder: folder, File: file, Line: line, Title: m[1], Meta: map[string]string{}}
			inMeta = true
			continue
		}
		if otherHeading.MatchString(text) {
			flush()
			continue
		}
		if cur == nil {
			continue
		}
		if inMeta {
			if m := metaLine.FindStringSubmatch(text); m != nil {
				cur.Meta[strings.TrimSpace(m[1])] = m[2]
				continue
			}
			if strings.TrimSpace(text) == "" && len(body) == 0 {
				continue
			}
			inMeta = false
		}
		body = append(body, text)
	}
	flush()
	return entries
}

func entryTime(meta map[string]string, fallback time.Time) time.Time {
	raw := meta[KeyDate]
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

// entryID is stable across reloads as long as the entry keeps its position
// and title within the file.
func entryID(file, title string, ordinal int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s\x00%d\x00%s", file, ordinal, title)))
	return "md-" + hex.EncodeToString(sum[:8])
}

// Format renders an entry in the on-disk layout. Metadata keys are written in
// sorted order with Date first.
func Format(title string, meta map[string]string, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n", oneLine(title))

	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k != KeyDate {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := meta[KeyDate]; ok {
		keys = append([]string{KeyDate}, keys...)
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "- **%s:** %s\n", oneLine(k), oneLine(meta[k]))
	}
	if body = strings.TrimSpace(body); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Title derives a heading from content: its first line, capped at 80 runes.
func Title(content string) string {
	first := strings.TrimSpace(strings.SplitN(strings.TrimSpace(content), "\n", 2)[0])
	first = strings.TrimLeft(first, "#-* ")
	r := []rune(first)
	if len(r) > 80 {
		return strings.TrimSpace(string(r[:77])) + "..."
	}
	return first
}
