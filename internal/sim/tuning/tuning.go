package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// SaveEverySteps writes an autosave after this many agent moves; 0 disables it.
	SaveEverySteps int `yaml:"save_every_steps"`
	UndoDepth      int `yaml:"undo_depth"`
	InputQueue     int `yaml:"input_queue"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	InputsPerSecond float64 `yaml:"inputs_per_second"`
	InputBurst      int     `yaml:"input_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		SaveEverySteps:  200,
		UndoDepth:       1024,
		InputQueue:      64,
		RateLimits: RateLimits{
			InputsPerSecond: 20,
			InputBurst:      10,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.ProtocolVersion == "" {
		return fmt.Errorf("protocol_version is required")
	}
	if t.SaveEverySteps < 0 {
		return fmt.Errorf("save_every_steps must be >= 0")
	}
	if t.UndoDepth < 0 {
		return fmt.Errorf("undo_depth must be >= 0")
	}
	if t.InputQueue <= 0 {
		return fmt.Errorf("input_queue must be > 0")
	}
	if r := t.RateLimits.InputsPerSecond; math.IsNaN(r) || math.IsInf(r, 0) {
		return fmt.Errorf("rate_limits.inputs_per_second must be finite")
	}
	if t.RateLimits.InputsPerSecond <= 0 || t.RateLimits.InputBurst <= 0 {
		return fmt.Errorf("rate_limits must be > 0")
	}
	return nil
}

// JSON is the canonical form stored in the index and hashed by Digest.
func (t Tuning) JSON() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode tuning: %w", err)
	}
	return b, nil
}

func (t Tuning) Digest() (string, error) {
	b, err := t.JSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
