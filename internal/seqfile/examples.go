package seqfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/steveyegge/espresso/internal/types"
)

// ReadExamples loads an example collection that will be keyed by k. A
// missing, empty, or undecodable collection, or an example without a
// value for k, is reported as an InvalidInputError.
func ReadExamples(path string, k types.SplitKey) ([]types.Example, error) {
	examples, err := Read[types.Example](path)
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			return nil, &types.InvalidInputError{Path: path, Reason: decErr.Error()}
		}
		if os.IsNotExist(err) {
			return nil, &types.InvalidInputError{Path: path, Reason: "collection does not exist"}
		}
		return nil, err
	}
	if len(examples) == 0 {
		return nil, &types.InvalidInputError{Path: path, Reason: "collection is empty"}
	}
	for i := range examples {
		if err := examples[i].Validate(k); err != nil {
			return nil, &types.InvalidInputError{Path: path, Reason: fmt.Sprintf("record %d: %v", i+1, err)}
		}
	}
	return examples, nil
}

// ParseSeeds reads plain-text seed patterns: one pattern per line with an
// optional tab-separated weight (default 1). Blank lines and lines
// starting with '#' are skipped; a repeated pattern keeps its first
// weight.
func ParseSeeds(path string) ([]types.Example, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &types.InvalidInputError{Path: path, Reason: "seed file does not exist"}
		}
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var seeds []types.Example
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		pattern, weightStr, hasWeight := strings.Cut(text, "\t")
		pattern = strings.TrimSpace(pattern)
		weight := 1.0
		if hasWeight {
			weight, err = strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
			if err != nil {
				return nil, &types.InvalidInputError{Path: path, Reason: fmt.Sprintf("line %d: invalid weight %q", line, weightStr)}
			}
		}
		if pattern == "" {
			return nil, &types.InvalidInputError{Path: path, Reason: fmt.Sprintf("line %d: empty pattern", line)}
		}
		if seen[pattern] {
			continue
		}
		seen[pattern] = true
		seeds = append(seeds, types.Example{Pattern: pattern, Score: weight})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(seeds) == 0 {
		return nil, &types.InvalidInputError{Path: path, Reason: "no seed patterns"}
	}
	return seeds, nil
}

// IngestSeeds converts a plain-text seed file into an example collection
// at out and returns the number of seeds written.
func IngestSeeds(in, out string) (int, error) {
	seeds, err := ParseSeeds(in)
	if err != nil {
		return 0, err
	}
	if err := Write(out, seeds); err != nil {
		return 0, fmt.Errorf("writing seeds to %s: %w", out, err)
	}
	return len(seeds), nil
}
