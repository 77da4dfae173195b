// Package manifest describes which layers of a converted checkpoint were
// quantized and in what format. The manifest travels as a JSON string in the
// safetensors metadata table.
package manifest

import (
	"errors"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

const (
	// MetadataKey is the reserved safetensors metadata entry holding the manifest.
	MetadataKey   = "_quantization_metadata"
	FormatVersion = "1.0"

	FormatNVFP4 = "nvfp4"
	FormatFP8   = "float8_e4m3fn"
)

var ErrMissing = errors.New("manifest: no quantization metadata")

type Layer struct {
	Format string `json:"format"`
}

type Manifest struct {
	FormatVersion string           `json:"format_version"`
	Layers        map[string]Layer `json:"layers"`
}

func New() *Manifest {
	return &Manifest{FormatVersion: FormatVersion, Layers: map[string]Layer{}}
}

// Add records layer as quantized in format. A later call for the same layer
// replaces the earlier entry.
func (m *Manifest) Add(layer, format string) {
	if m.Layers == nil {
		m.Layers = map[string]Layer{}
	}
	m.Layers[layer] = Layer{Format: format}
}

// Format returns the recorded format of layer.
func (m *Manifest) Format(layer string) (string, bool) {
	l, ok := m.Layers[layer]
	return l.Format, ok
}

// Len returns the number of quantized layers.
func (m *Manifest) Len() int {
	return len(m.Layers)
}

// LayerNames returns the recorded layer names in sorted order.
func (m *Manifest) LayerNames() []string {
	names := make([]string, 0, len(m.Layers))
	for name := range m.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts tallies layers per format.
func (m *Manifest) Counts() map[string]int {
	out := make(map[string]int)
	for _, l := range m.Layers {
		out[l.Format]++
	}
	return out
}

// Encode returns the compact JSON form stored in archive metadata.
func (m *Manifest) Encode() (string, error) {
	out := *m
	if out.Layers == nil {
		out.Layers = map[string]Layer{}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("manifest: encode: %w", err)
	}
	return string(raw), nil
}

// Decode parses a manifest string.
func Decode(s string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if m.FormatVersion == "" {
		return nil, errors.New("manifest: missing format_version")
	}
	if m.Layers == nil {
		m.Layers = map[string]Layer{}
	}
	for name, l := range m.Layers {
		switch l.Format {
		case FormatNVFP4, FormatFP8:
		default:
			return nil, fmt.Errorf("manifest: layer %q has unknown format %q", name, l.Format)
		}
	}
	return &m, nil
}

// FromMetadata extracts the manifest from a safetensors metadata table.
func FromMetadata(md map[string]string) (*Manifest, error) {
	s, ok := md[MetadataKey]
	if !ok {
		return nil, ErrMissing
	}
	return Decode(s)
}

// Metadata returns the metadata table carrying only this manifest.
func (m *Manifest) Metadata() (map[string]string, error) {
	s, err := m.Encode()
	if err != nil {
		return nil, err
	}
	return map[string]string{MetadataKey: s}, nil
}
