package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTuning overlays the YAML tuning file at path onto base. Keys absent from the file
// keep their base value; unknown keys are an error so a typo can't silently fall back
// to a default threshold.
//
//	score_threshold: 0.7
//	recent_channel_window: 3m
//	weights:
//	  semantic: 0.55
func LoadTuning(path string, base GroupingConfig) (GroupingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GroupingConfig{}, fmt.Errorf("reading tuning file: %w", err)
	}
	return ParseTuning(data, base)
}

func ParseTuning(data []byte, base GroupingConfig) (GroupingConfig, error) {
	out := base

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return GroupingConfig{}, fmt.Errorf("parsing tuning file: %w", err)
	}

	if err := out.Validate(); err != nil {
		return GroupingConfig{}, fmt.Errorf("tuning file: %w", err)
	}
	return out, nil
}

func (g GroupingConfig) Validate() error {
	switch {
	case g.SemanticThreshold <= 0 || g.SemanticThreshold >= 2:
		return fmt.Errorf("semantic_threshold must be in (0, 2)")
	case g.ScoreThreshold <= 0 || g.ScoreThreshold > 1:
		return fmt.Errorf("score_threshold must be in (0, 1]")
	case g.ArbitrationMinConfidence < 0 || g.ArbitrationMinConfidence > 1:
		return fmt.Errorf("arbitration_min_confidence must be in [0, 1]")
	case g.LookbackDays <= 0:
		return fmt.Errorf("lookback_days must be positive")
	case g.RecentChannelWindow <= 0:
		return fmt.Errorf("recent_channel_window must be positive")
	case g.EmbeddingTextLimit <= 0:
		return fmt.Errorf("embedding_text_limit must be positive")
	}
	return nil
}
