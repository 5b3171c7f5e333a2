package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Loaded is a policy together with the digest of the bytes it came from.
type Loaded struct {
	Policy Policy
	Hash   string
	Bytes  []byte
}

type filePolicy struct {
	MaxIterations       *int              `yaml:"max_iterations"`
	ConfidenceThreshold *float64          `yaml:"confidence_threshold"`
	TerminalTools       map[string]Reason `yaml:"terminal_tools"`
}

// Load reads a YAML policy file. Fields absent from the file keep their
// Default values.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	return Parse(data)
}

// Parse decodes a YAML policy and hashes the raw bytes.
func Parse(data []byte) (Loaded, error) {
	p := Default()
	var raw filePolicy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Loaded{}, fmt.Errorf("decode policy: %w", err)
	}
	if raw.MaxIterations != nil {
		p.MaxIterations = *raw.MaxIterations
	}
	if raw.ConfidenceThreshold != nil {
		p.ConfidenceThreshold = *raw.ConfidenceThreshold
	}
	if raw.TerminalTools != nil {
		p.TerminalTools = raw.TerminalTools
	}
	if err := p.Validate(); err != nil {
		return Loaded{}, err
	}
	return Loaded{Policy: p, Hash: Digest(data), Bytes: data}, nil
}

// Digest is the sha256 of data as "sha256:<hex>".
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
