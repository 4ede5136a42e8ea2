package checkpoint

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Codec writes checkpoints to and reads them from a stream.
type Codec interface {
	Encode(cp *Checkpoint, w io.Writer) error
	Decode(r io.Reader) (*Checkpoint, error)
}

// YAMLCodec encodes a checkpoint as a YAML mapping of sections.
type YAMLCodec struct {
}

// NewYAMLCodec creates a YAMLCodec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Encode writes the checkpoint.
func (c YAMLCodec) Encode(cp *Checkpoint, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(cp.sections); err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	return encoder.Close()
}

// Decode reads a checkpoint.
func (c YAMLCodec) Decode(r io.Reader) (*Checkpoint, error) {
	cp := New()

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	if err := decoder.Decode(&cp.sections); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}

	if cp.sections == nil {
		cp.sections = make(map[string]map[string]string)
	}

	return cp, nil
}
