package types

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing or malformed required parameter.
// It is raised before any stage runs.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// InvalidInputError reports an empty or malformed seed or chunk collection.
type InvalidInputError struct {
	Path   string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Path, e.Reason)
}

// CorpusAccessError reports that the corpus could not be read. It is fatal
// for the whole run.
type CorpusAccessError struct {
	Path string
	Err  error
}

func (e *CorpusAccessError) Error() string {
	return fmt.Sprintf("corpus access %s: %v", e.Path, e.Err)
}

func (e *CorpusAccessError) Unwrap() error { return e.Err }

// ScoringError reports an item a scorer could not process. Items are never
// skipped.
type ScoringError struct {
	Key    string
	Reason string
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring %q: %s", e.Key, e.Reason)
}

// ConsistencyError reports a chunk-count mismatch between Split and
// Combine: a chunk was lost or duplicated.
type ConsistencyError struct {
	Root     string
	Expected int
	Actual   int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s has %d chunk outputs, expected %d", e.Root, e.Actual, e.Expected)
}

// Exit codes used by the CLI.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
)

// ExitCode classifies err into a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfiguration
	}
	return ExitFailure
}

// Kind returns a short name for the error's class, used in logs and the
// run journal.
func Kind(err error) string {
	var (
		cfgErr    *ConfigurationError
		inputErr  *InvalidInputError
		corpusErr *CorpusAccessError
		scoreErr  *ScoringError
		consErr   *ConsistencyError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &inputErr):
		return "invalid_input"
	case errors.As(err, &corpusErr):
		return "corpus_access"
	case errors.As(err, &scoreErr):
		return "scoring"
	case errors.As(err, &consErr):
		return "consistency"
	default:
		return "unknown"
	}
}
