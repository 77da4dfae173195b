package manifest

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	m := New()
	m.Add("blockA", FormatNVFP4)
	m.Add("transformer_blocks.0.txt_mlp.net.0.proj", FormatFP8)

	s, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode(%s): %v", s, err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()
	s, err := New().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"format_version":"1.0","layers":{}}`; s != want {
		t.Fatalf("Encode() = %s, want %s", s, want)
	}
	// a zero value still encodes an object for layers
	s, err = (&Manifest{FormatVersion: FormatVersion}).Encode()
	if err != nil || s != `{"format_version":"1.0","layers":{}}` {
		t.Fatalf("zero layers: %s, %v", s, err)
	}
}

func TestEncodeWireFormat(t *testing.T) {
	t.Parallel()
	m := New()
	m.Add("blockA", FormatNVFP4)
	s, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"format_version":"1.0","layers":{"blockA":{"format":"nvfp4"}}}`; s != want {
		t.Fatalf("Encode() = %s, want %s", s, want)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	for _, s := range []string{
		`not json`,
		`{"layers":{}}`,
		`{"format_version":"1.0","layers":{"a":{"format":"int8"}}}`,
	} {
		if _, err := Decode(s); err == nil {
			t.Errorf("Decode(%s): expected error", s)
		}
	}
}

func TestFromMetadata(t *testing.T) {
	t.Parallel()
	if _, err := FromMetadata(map[string]string{"format": "pt"}); !errors.Is(err, ErrMissing) {
		t.Fatalf("err = %v, want ErrMissing", err)
	}
	m := New()
	m.Add("x", FormatFP8)
	md, err := m.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	got, err := FromMetadata(md)
	if err != nil {
		t.Fatalf("FromMetadata: %v", err)
	}
	if f, ok := got.Format("x"); !ok || f != FormatFP8 {
		t.Fatalf("Format(x) = %q, %v", f, ok)
	}
}

func TestCountsAndNames(t *testing.T) {
	t.Parallel()
	m := New()
	m.Add("b", FormatNVFP4)
	m.Add("a", FormatNVFP4)
	m.Add("c", FormatFP8)
	m.Add("c", FormatNVFP4)
	if diff := cmp.Diff([]string{"a", "b", "c"}, m.LayerNames()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{FormatNVFP4: 3}, m.Counts()); diff != "" {
		t.Fatalf("counts (-want +got):\n%s", diff)
	}
	if m.Len() != 3 {
		t.Fatalf("Len() = %d", m.Len())
	}
}
