package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/espresso/internal/types"
)

// HarvestFile is the YAML form of a HarvestConfig. Unset fields keep the
// value from the layer below.
type HarvestFile struct {
	Seeds          string   `yaml:"seeds"`
	Corpus         string   `yaml:"corpus"`
	CorpusClass    string   `yaml:"corpus_class"`
	Extractor      string   `yaml:"extractor"`
	ExtractorArgs  string   `yaml:"extractor_args"`
	Scorer         string   `yaml:"scorer"`
	ScorerArgs     string   `yaml:"scorer_args"`
	NumContexts    *int     `yaml:"num_contexts"`
	MinMatches     *int     `yaml:"min_matches"`
	Iterations     *int     `yaml:"iterations"`
	Output         string   `yaml:"output"`
	Growth         string   `yaml:"growth"`
	Retention      string   `yaml:"retention"`
	ChunkSize      *int     `yaml:"chunk_size"`
	Parallelism    *int     `yaml:"parallelism"`
	TaskRate       *float64 `yaml:"task_rate"`
	MaxSources     *int     `yaml:"max_sources"`
	JournalPath    string   `yaml:"journal_path"`
	DisableJournal *bool    `yaml:"no_journal"`
}

// ParseHarvestFile decodes YAML. Unknown keys are rejected.
func ParseHarvestFile(data []byte) (*HarvestFile, error) {
	var hf HarvestFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&hf); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &hf, nil
}

// ApplyTo overrides cfg with every field set in the file.
func (hf *HarvestFile) ApplyTo(cfg *HarvestConfig) {
	setString(&cfg.SeedPath, hf.Seeds)
	setString(&cfg.CorpusPath, hf.Corpus)
	setString(&cfg.CorpusClass, hf.CorpusClass)
	setString(&cfg.ExtractorClass, hf.Extractor)
	setString(&cfg.ExtractorArgs, hf.ExtractorArgs)
	setString(&cfg.ScorerClass, hf.Scorer)
	setString(&cfg.ScorerArgs, hf.ScorerArgs)
	setString(&cfg.OutputPath, hf.Output)
	setString(&cfg.Growth, hf.Growth)
	setString(&cfg.Retention, hf.Retention)
	setString(&cfg.JournalPath, hf.JournalPath)
	setInt(&cfg.NumContexts, hf.NumContexts)
	setInt(&cfg.MinMatches, hf.MinMatches)
	setInt(&cfg.Iterations, hf.Iterations)
	setInt(&cfg.ChunkSize, hf.ChunkSize)
	setInt(&cfg.Parallelism, hf.Parallelism)
	setInt(&cfg.MaxSources, hf.MaxSources)
	if hf.TaskRate != nil {
		cfg.TaskRate = *hf.TaskRate
	}
	if hf.DisableJournal != nil {
		cfg.NoJournal = *hf.DisableJournal
	}
}

func setString(dest *string, v string) {
	if v != "" {
		*dest = v
	}
}

func setInt(dest *int, v *int) {
	if v != nil {
		*dest = *v
	}
}

// Load builds a configuration from defaults, the YAML file at path (if
// path is non-empty), and the environment. It does not validate, so the
// caller can apply command-line overrides first.
func Load(path string) (HarvestConfig, error) {
	cfg := DefaultHarvestConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, &types.ConfigurationError{Field: "config", Reason: fmt.Sprintf("reading %s: %v", path, err)}
		}
		hf, err := ParseHarvestFile(data)
		if err != nil {
			return cfg, &types.ConfigurationError{Field: "config", Reason: fmt.Sprintf("parsing %s: %v", path, err)}
		}
		hf.ApplyTo(&cfg)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
