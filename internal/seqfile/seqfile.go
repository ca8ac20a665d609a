// Package seqfile reads and writes record collections on disk.
//
// A collection is either a single JSON-lines file or a directory of part
// files. Entries whose names start with "_" or "." are bookkeeping
// (markers, statistics, temporary split data) and are skipped when a
// directory is read. Part files are read in name order so reads are
// deterministic.
package seqfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PartName returns the conventional name of the n-th part file.
func PartName(n int) string {
	return fmt.Sprintf("part-%05d", n)
}

// Hidden reports whether a directory entry is bookkeeping rather than data.
func Hidden(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

// Files returns the data files that make up the collection at path.
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || Hidden(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Read decodes every record of the collection at path.
func Read[T any](path string) ([]T, error) {
	files, err := Files(path)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, f := range files {
		records, err := readFile[T](f)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func readFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, &DecodeError{Path: path, Line: line, Err: err}
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}

// Write stores records as a JSON-lines file at path, creating parent
// directories. The file is written to a temporary name and renamed so a
// partially written part is never visible.
func Write[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encoding record %d for %s: %w", i, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// WriteJSON stores a single value as an indented JSON document.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// ReadJSON loads a document written by WriteJSON.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}

// DecodeError reports a record that is not valid JSON for its type.
type DecodeError struct {
	Path string
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
