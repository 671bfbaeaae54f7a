package overlay_test

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/andrewarrow/cowblock/pkg/overlay"
)

// FuzzEngine_MatchesByteSliceModel drives an [overlay.Engine] and a plain
// in-memory byte slice through the same read/write/truncate operations
// decoded from the fuzz input, and checks every read agrees with the model.
//
// The model is not a format oracle: it only asserts observable behavior
// (what Read/Size return), not what the sidecars look like on disk.
func FuzzEngine_MatchesByteSliceModel(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x01, 0x00, 0x00, 0x00, 0x10, 0x05, 'h', 'e', 'l', 'l', 'o'})
	f.Add([]byte{
		0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x08, // read(16,8)
		0x01, 0x00, 0x00, 0x0F, 0xFE, 0x02, 0xAB, 0xCD, // write(4094,2)
		0x02, 0x00, 0x00, 0x10, 0x10, // truncate(4112)
	})

	backing := patternBytes(192 * 256) // 12 aligned blocks, T=0

	f.Fuzz(func(t *testing.T, ops []byte) {
		if len(ops) > 8192 {
			t.Skip()
		}

		dir := t.TempDir()
		backingPath := writeTempFile(t, dir, "input.bin", backing)

		eng, err := overlay.Open(overlay.Options{
			BackingPath: backingPath,
			DiffPath:    filepath.Join(dir, "cow-diff"),
			ExtraPath:   filepath.Join(dir, "cow-extra"),
			BlockSize:   4096,
		})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer eng.Close()

		model := append([]byte(nil), backing...)

		r := opReader{data: ops}

		for r.remaining() > 0 {
			op, ok := r.byte_()
			if !ok {
				break
			}

			switch op % 3 {
			case 0: // read
				offset, ok1 := r.uint32()
				size, ok2 := r.uint32()

				if !ok1 || !ok2 {
					return
				}

				got, err := eng.Read(uint64(offset), uint64(size))
				if err != nil {
					t.Fatalf("Read(%d,%d): %v", offset, size, err)
				}

				want := modelRead(model, uint64(offset), uint64(size))
				if !bytes.Equal(got, want) {
					t.Fatalf("Read(%d,%d) = %x, want %x", offset, size, got, want)
				}

			case 1: // write
				offset, ok1 := r.uint32()
				n, ok2 := r.byte_()

				if !ok1 || !ok2 {
					return
				}

				data, ok3 := r.bytes(int(n))
				if !ok3 {
					return
				}

				if _, err := eng.Write(uint64(offset), data); err != nil {
					t.Fatalf("Write(%d,%q): %v", offset, data, err)
				}

				model = modelWrite(model, uint64(offset), data)

			case 2: // truncate
				size, ok1 := r.uint32()
				if !ok1 {
					return
				}

				boundary := uint64(12 * 4096)
				if uint64(size) < boundary {
					continue // ErrUnsupported, not modeled
				}

				if err := eng.Truncate(uint64(size)); err != nil {
					t.Fatalf("Truncate(%d): %v", size, err)
				}

				model = modelTruncate(model, uint64(size))
			}

			if got, want := eng.Size(), uint64(len(model)); got != want {
				t.Fatalf("Size() = %d, want %d", got, want)
			}
		}
	})
}

type opReader struct {
	data []byte
	pos  int
}

func (r *opReader) remaining() int { return len(r.data) - r.pos }

func (r *opReader) byte_() (byte, bool) {
	if r.remaining() < 1 {
		return 0, false
	}

	b := r.data[r.pos]
	r.pos++

	return b, true
}

func (r *opReader) uint32() (uint32, bool) {
	if r.remaining() < 4 {
		return 0, false
	}

	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4

	return v, true
}

func (r *opReader) bytes(n int) ([]byte, bool) {
	if r.remaining() < n {
		return nil, false
	}

	b := r.data[r.pos : r.pos+n]
	r.pos += n

	return b, true
}

func modelRead(model []byte, offset, size uint64) []byte {
	if offset >= uint64(len(model)) || size == 0 {
		return nil
	}

	end := offset + size
	if end > uint64(len(model)) {
		end = uint64(len(model))
	}

	return model[offset:end]
}

func modelWrite(model []byte, offset uint64, data []byte) []byte {
	end := offset + uint64(len(data))

	if end > uint64(len(model)) {
		grown := make([]byte, end)
		copy(grown, model)
		model = grown
	}

	copy(model[offset:end], data)

	return model
}

func modelTruncate(model []byte, size uint64) []byte {
	if size <= uint64(len(model)) {
		return model[:size]
	}

	grown := make([]byte, size)
	copy(grown, model)

	return grown
}
