package archive

import (
	"bytes"
	"context"
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/j2kcore/pkg/compress/jpeg2k"
)

func codedComponent(t *testing.T, bounds image.Rectangle) (*jpeg2k.Component, []int) {
	t.Helper()
	comp, err := jpeg2k.BuildComponent(bounds, jpeg2k.DefaultCodingStyle(2), jpeg2k.ReversibleQuantStyle(2, 8, 3), 8, 1, 1)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	samples := make([]int, len(comp.Data))
	for i := range samples {
		samples[i] = rng.Intn(256) - 128
	}
	_, err = jpeg2k.NewTileEncoder(comp, nil).EncodeTile(context.Background(), samples)
	require.NoError(t, err)
	return comp, samples
}

func TestArchive_RoundTrip(t *testing.T) {
	comp, samples := codedComponent(t, image.Rect(0, 0, 40, 24))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, comp))
	assert.Equal(t, []byte("J2KA\x01"), buf.Bytes()[:5])

	hdr, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	id, err := comp.GeometryID()
	require.NoError(t, err)
	assert.Equal(t, id, hdr.GeometryID)
	assert.Equal(t, comp.NumCodeblocks(), hdr.NumCodeblocks)

	// A fresh component of the same geometry decodes to the original samples
	fresh, err := jpeg2k.BuildComponent(image.Rect(0, 0, 40, 24), jpeg2k.DefaultCodingStyle(2), jpeg2k.ReversibleQuantStyle(2, 8, 3), 8, 1, 1)
	require.NoError(t, err)
	got, err := Read(bytes.NewReader(buf.Bytes()), fresh)
	require.NoError(t, err)
	assert.Equal(t, hdr, got)

	orig, restored := codeblocks(comp), codeblocks(fresh)
	for i := range orig {
		assert.Equal(t, orig[i].Data, restored[i].Data)
		assert.Equal(t, orig[i].Passes, restored[i].Passes)
		assert.Equal(t, orig[i].ZeroBitPlanes, restored[i].ZeroBitPlanes)
		assert.Equal(t, orig[i].NonZeroBits, restored[i].NonZeroBits)
		assert.Equal(t, orig[i].Zero, restored[i].Zero)
	}

	decoded, err := jpeg2k.NewTileDecoder(nil).DecodeTile(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, samples, decoded)
}

func TestArchive_Errors(t *testing.T) {
	comp, _ := codedComponent(t, image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, comp))
	data := buf.Bytes()

	t.Run("magic", func(t *testing.T) {
		_, err := ReadHeader(bytes.NewReader([]byte("JP2K\x01")))
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})
	t.Run("version", func(t *testing.T) {
		_, err := ReadHeader(bytes.NewReader([]byte("J2KA\x09")))
		assert.ErrorIs(t, err, ErrVersion)
	})
	t.Run("short", func(t *testing.T) {
		_, err := ReadHeader(bytes.NewReader([]byte("J2")))
		assert.Error(t, err)
	})
	t.Run("geometry", func(t *testing.T) {
		other, err := jpeg2k.BuildComponent(image.Rect(0, 0, 32, 16), jpeg2k.DefaultCodingStyle(2), jpeg2k.ReversibleQuantStyle(2, 8, 3), 8, 1, 1)
		require.NoError(t, err)
		_, err = Read(bytes.NewReader(data), other)
		assert.ErrorIs(t, err, ErrGeometryMismatch)
	})
	t.Run("truncated body", func(t *testing.T) {
		fresh, err := jpeg2k.BuildComponent(image.Rect(0, 0, 16, 16), jpeg2k.DefaultCodingStyle(2), jpeg2k.ReversibleQuantStyle(2, 8, 3), 8, 1, 1)
		require.NoError(t, err)
		_, err = Read(bytes.NewReader(data[:len(data)/2]), fresh)
		assert.Error(t, err)
	})
}
