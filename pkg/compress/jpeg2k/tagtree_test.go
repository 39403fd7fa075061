package jpeg2k

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bitBuffer is an in-memory BitSink and BitSource.
type bitBuffer struct {
	bits []int
	pos  int
}

func (b *bitBuffer) WriteBit(bit int) error {
	b.bits = append(b.bits, bit&1)
	return nil
}

func (b *bitBuffer) ReadBit() (int, error) {
	if b.pos >= len(b.bits) {
		return 0, io.EOF
	}
	b.pos++
	return b.bits[b.pos-1], nil
}

func setLeaves(t *testing.T, tree *TagTree, values []int) {
	t.Helper()
	for i, v := range values {
		require.NoError(t, tree.SetValue(i%tree.Width(), i/tree.Width(), v))
	}
}

func TestNewTagTree(t *testing.T) {
	tests := []struct {
		w, h  int
		nodes int
	}{
		{1, 1, 1},
		{2, 2, 5},
		{3, 3, 14},
		{4, 1, 7},
		{5, 3, 15 + 6 + 2 + 1},
	}
	for _, tt := range tests {
		tree, err := NewTagTree(tt.w, tt.h)
		require.NoError(t, err)
		assert.Equal(t, tt.nodes, tree.NumNodes(), "%dx%d", tt.w, tt.h)
		assert.Equal(t, TagTreeSentinel, tree.RootValue())
	}

	for _, sz := range [][2]int{{0, 1}, {1, 0}, {-1, 4}} {
		_, err := NewTagTree(sz[0], sz[1])
		assert.ErrorIs(t, err, ErrConfiguration)
	}
}

func TestTagTree_OutOfRange(t *testing.T) {
	tree, err := NewTagTree(2, 3)
	require.NoError(t, err)

	assert.ErrorIs(t, tree.SetValue(2, 0, 1), ErrConsistency)
	_, err = tree.Value(0, 3)
	assert.ErrorIs(t, err, ErrConsistency)
	_, err = tree.Encode(&bitBuffer{}, -1, 0, 0)
	assert.ErrorIs(t, err, ErrConsistency)
	_, _, err = tree.Query(&bitBuffer{}, 0, 5, 0)
	assert.ErrorIs(t, err, ErrConsistency)
}

func TestTagTree_Scenario(t *testing.T) {
	enc, err := NewTagTree(2, 2)
	require.NoError(t, err)
	setLeaves(t, enc, []int{3, 1, 4, 1})
	require.Equal(t, 1, enc.RootValue())

	var bits bitBuffer
	done, err := enc.Encode(&bits, 1, 1, 0)
	require.NoError(t, err)
	assert.False(t, done)
	done, err = enc.Encode(&bits, 1, 1, 1)
	require.NoError(t, err)
	assert.True(t, done)

	dec, err := NewTagTree(2, 2)
	require.NoError(t, err)

	v, done, err := dec.Query(&bits, 1, 1, 0)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, v)

	v, done, err = dec.Query(&bits, 1, 1, 1)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 1, v)
	assert.Equal(t, len(bits.bits), bits.pos)
}

func TestTagTree_RootIsMinimum(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, sz := range [][2]int{{1, 1}, {2, 2}, {3, 5}, {8, 8}, {13, 2}} {
		tree, err := NewTagTree(sz[0], sz[1])
		require.NoError(t, err)
		values := make([]int, sz[0]*sz[1])
		for i := range values {
			values[i] = rng.Intn(20)
		}
		setLeaves(t, tree, values)
		assert.Equal(t, minOf(values), tree.RootValue())

		// Raising a leaf re-propagates the minimum
		for i := range values {
			values[i] = 50 + i
			require.NoError(t, tree.SetValue(i%sz[0], i/sz[0], values[i]))
		}
		assert.Equal(t, 50, tree.RootValue())
	}
}

func TestTagTree_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for _, sz := range [][2]int{{1, 1}, {2, 2}, {3, 3}, {7, 4}, {16, 16}} {
		w, h := sz[0], sz[1]
		values := make([]int, w*h)
		for i := range values {
			values[i] = rng.Intn(8)
		}
		enc, err := NewTagTree(w, h)
		require.NoError(t, err)
		setLeaves(t, enc, values)

		var buf bytes.Buffer
		bw := NewBitWriter(&buf)
		for threshold := 0; threshold < 8; threshold++ {
			for i := range values {
				done, err := enc.Encode(bw, i%w, i/w, threshold)
				require.NoError(t, err)
				assert.Equal(t, values[i] <= threshold, done)
			}
		}
		require.NoError(t, bw.Flush())

		dec, err := NewTagTree(w, h)
		require.NoError(t, err)
		br := NewBitReader(&buf)
		last := make([]int, len(values))
		for threshold := 0; threshold < 8; threshold++ {
			for i := range values {
				v, done, err := dec.Query(br, i%w, i/w, threshold)
				require.NoError(t, err)
				// Reported values never decrease
				require.GreaterOrEqual(t, v, last[i])
				last[i] = v
				if values[i] <= threshold {
					require.True(t, done)
					require.Equal(t, values[i], v)
				} else {
					require.False(t, done)
					require.Equal(t, threshold+1, v)
				}
			}
		}
		assert.Equal(t, minOf(values), dec.RootValue(), "%dx%d", w, h)
	}
}

func TestTagTree_DecidedLeafCostsNothing(t *testing.T) {
	tree, err := NewTagTree(3, 3)
	require.NoError(t, err)
	setLeaves(t, tree, []int{2, 5, 1, 0, 3, 3, 4, 4, 2})

	var bits bitBuffer
	done, err := tree.Encode(&bits, 1, 1, 3)
	require.NoError(t, err)
	require.True(t, done)
	n := len(bits.bits)

	for threshold := 3; threshold < 10; threshold++ {
		done, err = tree.Encode(&bits, 1, 1, threshold)
		require.NoError(t, err)
		assert.True(t, done)
	}
	assert.Equal(t, n, len(bits.bits))
}

func TestTagTree_ResetAndZero(t *testing.T) {
	tree, err := NewTagTree(4, 4)
	require.NoError(t, err)
	setLeaves(t, tree, make([]int, 16))
	_, err = tree.Encode(&bitBuffer{}, 3, 3, 2)
	require.NoError(t, err)

	tree.Reset()
	v, err := tree.Value(3, 3)
	require.NoError(t, err)
	assert.Equal(t, TagTreeSentinel, v)
	assert.Equal(t, TagTreeSentinel, tree.RootValue())

	// A zeroed tree learns nothing without bits
	tree.Zero()
	assert.Equal(t, TagTreeSentinel, tree.RootValue())
	_, _, err = tree.Query(&bitBuffer{}, 2, 1, 0)
	assert.ErrorIs(t, err, io.EOF)

	// and reads a value back once it has them
	enc, err := NewTagTree(4, 4)
	require.NoError(t, err)
	values := make([]int, 16)
	values[6] = 2
	for i := range values {
		if i != 6 {
			values[i] = 5
		}
	}
	setLeaves(t, enc, values)
	var bits bitBuffer
	for threshold := 0; threshold <= 2; threshold++ {
		_, err := enc.Encode(&bits, 2, 1, threshold)
		require.NoError(t, err)
	}
	for threshold := 0; ; threshold++ {
		v, done, err := tree.Query(&bits, 2, 1, threshold)
		require.NoError(t, err)
		if done {
			assert.Equal(t, 2, v)
			break
		}
	}
	assert.Equal(t, len(bits.bits), bits.pos)
}

func TestTagTree_ValueRange(t *testing.T) {
	tree, err := NewTagTree(2, 1)
	require.NoError(t, err)
	for _, v := range []int{-1, TagTreeSentinel + 1, 1200} {
		assert.ErrorIs(t, tree.SetValue(0, 0, v), ErrConfiguration, "%d", v)
	}
	for _, threshold := range []int{-1, TagTreeSentinel, 1200} {
		_, err := tree.Encode(&bitBuffer{}, 0, 0, threshold)
		assert.ErrorIs(t, err, ErrConfiguration, "%d", threshold)
		_, _, err = tree.Query(&bitBuffer{}, 0, 0, threshold)
		assert.ErrorIs(t, err, ErrConfiguration, "%d", threshold)
	}

	tests := []struct {
		name      string
		value     int
		threshold int
		done      bool
	}{
		{"largest value", TagTreeSentinel - 1, TagTreeSentinel - 1, true},
		{"sentinel stays undecided", TagTreeSentinel, TagTreeSentinel - 1, false},
		{"below threshold", 7, TagTreeSentinel - 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewTagTree(2, 1)
			require.NoError(t, err)
			require.NoError(t, enc.SetValue(0, 0, tt.value))
			require.NoError(t, enc.SetValue(1, 0, TagTreeSentinel))
			var bits bitBuffer
			done, err := enc.Encode(&bits, 0, 0, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.done, done)

			dec, err := NewTagTree(2, 1)
			require.NoError(t, err)
			v, done, err := dec.Query(&bits, 0, 0, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.done, done)
			if done {
				assert.Equal(t, tt.value, v)
			} else {
				assert.Equal(t, tt.threshold+1, v)
			}
			// Both sides agree on the number of decisions
			assert.Equal(t, len(bits.bits), bits.pos)
		})
	}
}

func TestTagTree_QueryEOF(t *testing.T) {
	tree, err := NewTagTree(2, 2)
	require.NoError(t, err)
	_, _, err = tree.Query(&bitBuffer{}, 0, 0, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func minOf(values []int) int {
	m := values[0]
	for _, v := range values[1:] {
		m = min(m, v)
	}
	return m
}
