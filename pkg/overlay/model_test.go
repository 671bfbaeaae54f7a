package overlay_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/andrewarrow/cowblock/pkg/overlay"
)

// Test_Model_FixedSequence_MatchesEngine runs a fixed sequence of
// read/write operations against both the engine and a byte-slice
// oracle, asserting agreement at every step using testify/go-cmp rather than
// hand-rolled comparisons.
func Test_Model_FixedSequence_MatchesEngine(t *testing.T) {
	backing := paddedPattern(96, 64) // 96*256+64 = 6*4096+64 = 24640, T=64

	eng, _ := mustOpen(t, backing, 4096)
	defer eng.Close()

	model := append([]byte(nil), backing...)

	type op struct {
		name   string
		offset uint64
		data   []byte
		size   uint64
	}

	ops := []op{
		{name: "write", offset: 10, data: []byte("abcdef")},
		{name: "write", offset: 4090, data: []byte("01234567890")}, // crosses boundary
		{name: "write", offset: 24640, data: []byte("grow-past-end")},
		{name: "read", offset: 0, size: 24700},
		{name: "read", offset: 4085, size: 20},
	}

	for i, o := range ops {
		switch o.name {
		case "write":
			n, err := eng.Write(o.offset, o.data)
			require.NoErrorf(t, err, "op %d: Write", i)
			require.Equalf(t, uint64(len(o.data)), n, "op %d: Write length", i)

			model = modelWrite(model, o.offset, o.data)

		case "read":
			got, err := eng.Read(o.offset, o.size)
			require.NoErrorf(t, err, "op %d: Read", i)

			want := modelRead(model, o.offset, o.size)

			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("op %d: Read(%d,%d) mismatch (-want +got):\n%s", i, o.offset, o.size, diff)
			}
		}

		require.Equalf(t, uint64(len(model)), eng.Size(), "op %d: Size", i)
	}
}

func Test_Model_Open_RejectsZeroBlockSizeOnlyWhenExplicitlyInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "input.bin", patternBytes(4096))

	// BlockSize: 0 means DefaultBlockSize, not an error.
	eng, err := overlay.Open(overlay.Options{
		BackingPath: path,
		DiffPath:    dir + "/cow-diff",
		ExtraPath:   dir + "/cow-extra",
	})
	require.NoError(t, err)
	defer eng.Close()

	require.Equal(t, uint64(4096), eng.Size())
}
