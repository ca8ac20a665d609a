// Package corpus provides read-only access to the text corpus a harvest
// runs over.
//
// A corpus is opened from a CorpusRef (path + class). The class selects a
// reader from the registry: "text" treats every non-empty line as a
// sentence, "jsonl" reads {"id","text"} records. A corpus is made of
// shards (one per file) so the batch processor can scan them in parallel.
// Any failure to reach the corpus is reported as a CorpusAccessError.
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/steveyegge/espresso/internal/types"
)

// Sentence is one unit of text together with its location.
type Sentence struct {
	DocID string
	Line  int
	Text  string
}

// Location renders the sentence's "doc:line" source reference.
func (s Sentence) Location() string {
	return fmt.Sprintf("%s:%d", s.DocID, s.Line)
}

// Shard is an independently scannable part of a corpus.
type Shard interface {
	Name() string
	Scan(ctx context.Context, fn func(Sentence) error) error
}

// Corpus is an opened, read-only corpus.
type Corpus interface {
	Ref() types.CorpusRef
	Shards() []Shard
}

// Opener opens a corpus of one class.
type Opener func(ref types.CorpusRef) (Corpus, error)

var registry = map[string]Opener{
	"text":  openText,
	"jsonl": openJSONL,
}

// Classes returns the registered corpus class names, sorted.
func Classes() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the opener for class.
func Lookup(class string) (Opener, error) {
	open, ok := registry[class]
	if !ok {
		return nil, fmt.Errorf("unknown corpus class %q (available: %s)", class, strings.Join(Classes(), ", "))
	}
	return open, nil
}

// Open opens the corpus described by ref.
func Open(ref types.CorpusRef) (Corpus, error) {
	open, err := Lookup(ref.Class)
	if err != nil {
		return nil, err
	}
	return open(ref)
}

type fileCorpus struct {
	ref    types.CorpusRef
	shards []Shard
}

func (c *fileCorpus) Ref() types.CorpusRef { return c.ref }
func (c *fileCorpus) Shards() []Shard      { return c.shards }

// corpusFiles resolves ref.Path to the files it covers: the file itself,
// or every regular, non-hidden file below a directory.
func corpusFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &types.CorpusAccessError{Path: path, Err: err}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if p != path && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, &types.CorpusAccessError{Path: path, Err: err}
	}
	if len(files) == 0 {
		return nil, &types.CorpusAccessError{Path: path, Err: fmt.Errorf("no corpus files found")}
	}
	sort.Strings(files)
	return files, nil
}

func openFiles(ref types.CorpusRef, decode func(docID string, line int, text string) (Sentence, bool, error)) (Corpus, error) {
	files, err := corpusFiles(ref.Path)
	if err != nil {
		return nil, err
	}
	c := &fileCorpus{ref: ref}
	for _, f := range files {
		docID, relErr := filepath.Rel(ref.Path, f)
		if relErr != nil || docID == "." {
			docID = filepath.Base(f)
		}
		c.shards = append(c.shards, &fileShard{path: f, docID: filepath.ToSlash(docID), decode: decode})
	}
	return c, nil
}

type fileShard struct {
	path   string
	docID  string
	decode func(docID string, line int, text string) (Sentence, bool, error)
}

func (s *fileShard) Name() string { return s.docID }

func (s *fileShard) Scan(ctx context.Context, fn func(Sentence) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return &types.CorpusAccessError{Path: s.path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		sentence, ok, err := s.decode(s.docID, line, scanner.Text())
		if err != nil {
			return &types.CorpusAccessError{Path: s.path, Err: err}
		}
		if !ok {
			continue
		}
		if err := fn(sentence); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &types.CorpusAccessError{Path: s.path, Err: err}
	}
	return nil
}

func openText(ref types.CorpusRef) (Corpus, error) {
	return openFiles(ref, func(docID string, line int, text string) (Sentence, bool, error) {
		text = strings.TrimSpace(text)
		if text == "" {
			return Sentence{}, false, nil
		}
		return Sentence{DocID: docID, Line: line, Text: text}, true, nil
	})
}

type jsonlRecord struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func openJSONL(ref types.CorpusRef) (Corpus, error) {
	return openFiles(ref, func(docID string, line int, text string) (Sentence, bool, error) {
		text = strings.TrimSpace(text)
		if text == "" {
			return Sentence{}, false, nil
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return Sentence{}, false, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(rec.Text) == "" {
			return Sentence{}, false, nil
		}
		if rec.ID != "" {
			docID = rec.ID
		}
		return Sentence{DocID: docID, Line: line, Text: rec.Text}, true, nil
	})
}
