// Package archive persists the Tier-1 output of a coded component: per
// code-block coded bytes, pass tables and first-layer signalling, zstd compressed
// and keyed by the component's geometry fingerprint.
package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zstd"

	"github.com/jpfielding/j2kcore/pkg/compress/jpeg2k"
	"github.com/jpfielding/j2kcore/pkg/util"
)

const (
	magic   = "J2KA"
	version = 1
)

// Common errors
var (
	ErrInvalidMagic     = errors.New("archive: invalid magic")
	ErrVersion          = errors.New("archive: unsupported version")
	ErrGeometryMismatch = errors.New("archive: geometry mismatch")
	ErrChecksum         = errors.New("archive: checksum mismatch")
)

// Header describes an archive
type Header struct {
	GeometryID    string
	NumCodeblocks int
	Checksum      string // md5 hex of every code-block's coded bytes in order
}

// codeblocks lists comp's code-blocks in level, band, raster order.
func codeblocks(comp *jpeg2k.Component) []*jpeg2k.Codeblock {
	out := make([]*jpeg2k.Codeblock, 0, comp.NumCodeblocks())
	for _, lvl := range comp.Levels {
		for _, b := range lvl.Bands {
			for i := range b.Codeblocks {
				out = append(out, &b.Codeblocks[i])
			}
		}
	}
	return out
}

func checksum(cbs []*jpeg2k.Codeblock) string {
	var all []byte
	for _, cb := range cbs {
		all = append(all, cb.Data...)
	}
	return util.Md5ThenHex(all)
}

func writeString(bw *jpeg2k.ByteWriter, s string) error {
	if err := bw.WriteUint16(uint16(len(s))); err != nil {
		return err
	}
	return bw.WriteBytes([]byte(s))
}

func readString(br *jpeg2k.ByteReader) (string, error) {
	n, err := br.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := br.ReadBytes(int(n))
	return string(b), err
}

// Write stores the coded state of comp in w.
func Write(w io.Writer, comp *jpeg2k.Component) error {
	id, err := comp.GeometryID()
	if err != nil {
		return err
	}
	cbs := codeblocks(comp)

	hw := jpeg2k.NewByteWriter(w)
	if err := hw.WriteBytes([]byte(magic)); err != nil {
		return err
	}
	if err := hw.WriteByte(version); err != nil {
		return err
	}
	if err := hw.Flush(); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	bw := jpeg2k.NewByteWriter(enc)
	if err := writeBody(bw, Header{GeometryID: id, NumCodeblocks: len(cbs), Checksum: checksum(cbs)}, comp, cbs); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func writeBody(bw *jpeg2k.ByteWriter, h Header, comp *jpeg2k.Component, cbs []*jpeg2k.Codeblock) error {
	if err := writeString(bw, h.GeometryID); err != nil {
		return err
	}
	if err := writeString(bw, h.Checksum); err != nil {
		return err
	}
	if err := bw.WriteUint32(uint32(h.NumCodeblocks)); err != nil {
		return err
	}

	sig := bw.BitWriter()
	for _, lvl := range comp.Levels {
		for _, b := range lvl.Bands {
			if err := b.EncodeSignalling(sig); err != nil {
				return fmt.Errorf("%v band of level %d: %w", b.Orientation, lvl.Level, err)
			}
		}
	}
	if err := sig.Flush(); err != nil {
		return err
	}
	slog.Debug("archive signalling written", slog.Int("codeblocks", len(cbs)), slog.Int("bits", sig.Len()))

	// Pass counts and lengths travel in the signalling
	for i, cb := range cbs {
		if len(cb.Passes) != cb.NumPasses {
			return fmt.Errorf("%w: codeblock %d has %d pass records for %d passes", jpeg2k.ErrConsistency, i, len(cb.Passes), cb.NumPasses)
		}
		for _, p := range cb.Passes {
			if err := bw.WriteUint32(uint32(p.Rate)); err != nil {
				return err
			}
			if err := bw.WriteUint64(uint64(p.Distortion)); err != nil {
				return err
			}
		}
		if err := bw.WriteBytes(cb.Data); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads the magic and header of an archive, leaving the
// code-block records unread.
func ReadHeader(r io.Reader) (Header, error) {
	h, _, done, err := open(r)
	if err != nil {
		return Header{}, err
	}
	done()
	return h, nil
}

func open(r io.Reader) (Header, *jpeg2k.ByteReader, func(), error) {
	var h Header
	prefix := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return h, nil, nil, fmt.Errorf("archive: %w", err)
	}
	if string(prefix[:len(magic)]) != magic {
		return h, nil, nil, ErrInvalidMagic
	}
	if prefix[len(magic)] != version {
		return h, nil, nil, fmt.Errorf("%w: %d", ErrVersion, prefix[len(magic)])
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return h, nil, nil, err
	}
	br := jpeg2k.NewByteReader(dec)
	if h.GeometryID, err = readString(br); err != nil {
		dec.Close()
		return h, nil, nil, fmt.Errorf("archive header: %w", err)
	}
	if h.Checksum, err = readString(br); err != nil {
		dec.Close()
		return h, nil, nil, fmt.Errorf("archive header: %w", err)
	}
	n, err := br.ReadUint32()
	if err != nil {
		dec.Close()
		return h, nil, nil, fmt.Errorf("archive header: %w", err)
	}
	h.NumCodeblocks = int(n)
	return h, br, dec.Close, nil
}

// Read restores the coded state stored in r into comp, which must have been
// built with the same geometry.
func Read(r io.Reader, comp *jpeg2k.Component) (Header, error) {
	h, br, done, err := open(r)
	if err != nil {
		return h, err
	}
	defer done()

	id, err := comp.GeometryID()
	if err != nil {
		return h, err
	}
	cbs := codeblocks(comp)
	if id != h.GeometryID || len(cbs) != h.NumCodeblocks {
		return h, fmt.Errorf("%w: archive %s, component %s", ErrGeometryMismatch, h.GeometryID, id)
	}

	sig := br.BitReader()
	for _, lvl := range comp.Levels {
		for _, b := range lvl.Bands {
			if err := b.DecodeSignalling(sig); err != nil {
				return h, fmt.Errorf("%v band of level %d: %w", b.Orientation, lvl.Level, err)
			}
		}
	}

	sig.Align()

	for i, cb := range cbs {
		cb.NumIncludedPasses = 0
		if cb.Length > jpeg2k.DefaultMaxCodedBytes*16 {
			return h, fmt.Errorf("%w: codeblock %d of %d bytes", jpeg2k.ErrConsistency, i, cb.Length)
		}
		cb.Passes = cb.Passes[:0]
		for range cb.NumPasses {
			rate, err := br.ReadUint32()
			if err != nil {
				return h, fmt.Errorf("codeblock %d: %w", i, err)
			}
			dist, err := br.ReadUint64()
			if err != nil {
				return h, fmt.Errorf("codeblock %d: %w", i, err)
			}
			cb.Passes = append(cb.Passes, jpeg2k.Pass{Rate: int(rate), Distortion: int64(dist)})
		}
		data, err := br.ReadBytes(cb.Length)
		if err != nil {
			return h, fmt.Errorf("codeblock %d: %w", i, err)
		}
		cb.Data = append(cb.Data[:0], data...)
	}

	if sum := checksum(cbs); sum != h.Checksum {
		return h, fmt.Errorf("%w: %s != %s", ErrChecksum, sum, h.Checksum)
	}
	return h, nil
}
