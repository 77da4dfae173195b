package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/requant/internal/tensor"
)

// writeSafetensors creates a minimal safetensors file for testing.
func writeSafetensors(t *testing.T, path string, tensors map[string]tensorHeader) {
	t.Helper()
	header := make(map[string]tensorHeader, len(tensors))
	maps.Copy(header, tensors)
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer func() { _ = f.Close() }()

	// Write 8-byte little-endian header length
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		t.Fatalf("write header len: %v", err)
	}
	if _, err := f.Write(headerBytes); err != nil {
		t.Fatalf("write header: %v", err)
	}

	// Write tensor data (find max offset)
	var maxEnd int64
	for _, th := range tensors {
		if len(th.DataOffsets) == 2 && th.DataOffsets[1] > maxEnd {
			maxEnd = th.DataOffsets[1]
		}
	}
	if maxEnd > 0 {
		data := make([]byte, maxEnd)
		if _, err := f.Write(data); err != nil {
			t.Fatalf("write data: %v", err)
		}
	}
}

// writeRaw writes an archive with the given JSON header followed by data.
func writeRaw(t *testing.T, header string, data []byte) string {
	t.Helper()
	buf := make([]byte, 8, 8+len(header)+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(len(header)))
	buf = append(buf, header...)
	buf = append(buf, data...)
	path := filepath.Join(t.TempDir(), "raw.safetensors")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func savedFile(t *testing.T) *File {
	t.Helper()
	ckpt := NewCheckpoint()
	ckpt.Metadata = map[string]string{"modelspec.title": "test"}
	ckpt.Set("blk.weight", tensor.FromFloat32([]int{2, 2}, []float32{1, -2, 3.5, 0}))
	ckpt.Set("blk.bias", tensor.FromFloat32BF16([]int{3}, []float32{0.5, -1, 2}))
	ckpt.Set("blk.norm", tensor.FromFloat32F16([]int{2}, []float32{0.25, -3}))
	ckpt.Set("blk.packed", tensor.Tensor{DType: tensor.U8, Shape: []int{1, 2}, Data: []byte{7, 9}})

	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := Save(path, ckpt); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f
}

func TestOpenReadsHeader(t *testing.T) {
	t.Parallel()
	f := savedFile(t)

	want := []string{"blk.bias", "blk.norm", "blk.packed", "blk.weight"}
	if diff := cmp.Diff(want, f.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"modelspec.title": "test"}, f.Metadata); diff != "" {
		t.Fatalf("metadata (-want +got):\n%s", diff)
	}
	info, ok := f.Tensor("blk.weight")
	if !ok {
		t.Fatal("blk.weight missing")
	}
	if info.DType != tensor.F32 || info.Size() != 16 {
		t.Fatalf("info = %+v", info)
	}
	if diff := cmp.Diff([]int{2, 2}, info.Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	if f.DataStart <= 8 {
		t.Fatalf("data start = %d", f.DataStart)
	}
	if _, ok := f.Tensor("blk.missing"); ok {
		t.Fatal("unexpected tensor")
	}
}

func TestReadTensorF32(t *testing.T) {
	t.Parallel()
	f := savedFile(t)

	tests := []struct {
		name    string
		want    []float32
		wantErr error
	}{
		{name: "blk.weight", want: []float32{1, -2, 3.5, 0}},
		{name: "blk.bias", want: []float32{0.5, -1, 2}},
		{name: "blk.norm", want: []float32{0.25, -3}},
		{name: "blk.packed", wantErr: tensor.ErrUnsupportedDType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := f.ReadTensorF32(tc.name)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadTensorF32: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("values (-want +got):\n%s", diff)
			}
		})
	}

	if _, _, err := f.ReadTensorF32("blk.missing"); err == nil {
		t.Fatal("expected error for missing tensor")
	}
}

func TestOpenRejectsMalformedHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
	}{
		{"invalid json", `{not json`},
		{"offsets arity", `{"w":{"dtype":"F32","shape":[1],"data_offsets":[0]}}`},
		{"tensor not an object", `{"w":[1,2]}`},
		{"metadata values", `{"__metadata__":{"n":1}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Open(writeRaw(t, tc.header, nil)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOpenRejectsBadPreamble(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	short := filepath.Join(dir, "short.safetensors")
	if err := os.WriteFile(short, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	huge := filepath.Join(dir, "huge.safetensors")
	var pre [8]byte
	binary.LittleEndian.PutUint64(pre[:], maxHeaderLen+1)
	if err := os.WriteFile(huge, pre[:], 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, path := range []string{short, huge, filepath.Join(dir, "absent.safetensors")} {
		if _, err := Open(path); err == nil {
			t.Fatalf("Open(%s): expected error", filepath.Base(path))
		}
	}
}

func TestReadTensorBadOffsets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
		data   []byte
	}{
		{"inverted", `{"w":{"dtype":"F32","shape":[1],"data_offsets":[8,4]}}`, make([]byte, 8)},
		{"past end of file", `{"w":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`, make([]byte, 4)},
		{"size disagrees with shape", `{"w":{"dtype":"F32","shape":[4],"data_offsets":[0,8]}}`, make([]byte, 8)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Open(writeRaw(t, tc.header, tc.data))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if _, _, err := f.ReadTensorF32("w"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
