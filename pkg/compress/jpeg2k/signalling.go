package jpeg2k

import (
	"fmt"
	"math/bits"
)

// maxSignalledPasses is the largest pass count the codewords of
// ITU-T T.800 Table B.4 can carry.
const maxSignalledPasses = 164

// maxLengthBits bounds the length field of one code-block contribution.
const maxLengthBits = 24

// SignallingWriter receives band signalling: tag-tree decisions bit by bit
// and pass counts and lengths as fixed-width fields.
type SignallingWriter interface {
	BitSink
	WriteBits(val uint32, n int) error
}

// SignallingReader supplies what a SignallingWriter received.
type SignallingReader interface {
	BitSource
	ReadBits(n int) (uint32, error)
}

var (
	_ SignallingWriter = (*BitWriter)(nil)
	_ SignallingReader = (*BitReader)(nil)
)

// EncodeSignalling emits, precinct by precinct, the first-layer
// contribution of every code-block of the band: its inclusion, and for the
// included ones the zero bit-planes, the pass count and the coded length
// (B.10.4 - B.10.7). The trees must have been loaded by a tile encoder.
func (b *Band) EncodeSignalling(w SignallingWriter) error {
	for i := range b.Precincts {
		p := &b.Precincts[i]
		if p.Inclusion == nil {
			continue
		}
		p.Inclusion.Rewind()
		p.ZeroBits.Rewind()
		for y := p.Yi0; y < p.Yi1; y++ {
			for x := p.Xi0; x < p.Xi1; x++ {
				cb := b.CodeblockAt(x, y)
				in, err := p.Inclusion.Encode(w, x-p.Xi0, y-p.Yi0, 0)
				if err != nil {
					return err
				}
				if !in {
					continue
				}
				for t := 0; ; t++ {
					done, err := p.ZeroBits.Encode(w, x-p.Xi0, y-p.Yi0, t)
					if err != nil {
						return err
					}
					if done {
						break
					}
				}
				if err := writePassCount(w, cb.NumPasses); err != nil {
					return fmt.Errorf("code-block (%d,%d): %w", x, y, err)
				}
				if err := writeLength(w, cb, len(cb.Data)); err != nil {
					return fmt.Errorf("code-block (%d,%d): %w", x, y, err)
				}
			}
		}
	}
	return nil
}

// DecodeSignalling reads what EncodeSignalling wrote and sets Zero,
// ZeroBitPlanes, NonZeroBits, NumPasses, Lblock and Length of every
// code-block of the band.
func (b *Band) DecodeSignalling(r SignallingReader) error {
	for i := range b.Precincts {
		p := &b.Precincts[i]
		if p.Inclusion == nil {
			continue
		}
		p.Inclusion.Zero()
		p.ZeroBits.Zero()
		for y := p.Yi0; y < p.Yi1; y++ {
			for x := p.Xi0; x < p.Xi1; x++ {
				cb := b.CodeblockAt(x, y)
				cb.Lblock = 3
				_, in, err := p.Inclusion.Query(r, x-p.Xi0, y-p.Yi0, 0)
				if err != nil {
					return err
				}
				cb.Zero = !in
				if !in {
					cb.ZeroBitPlanes = b.NumBitPlanes
					cb.NonZeroBits = 0
					cb.NumPasses = 0
					cb.Length = 0
					continue
				}
				for t := 0; ; t++ {
					v, done, err := p.ZeroBits.Query(r, x-p.Xi0, y-p.Yi0, t)
					if err != nil {
						return err
					}
					if done {
						cb.ZeroBitPlanes = v
						break
					}
					if t >= b.NumBitPlanes {
						return fmt.Errorf("%w: code-block (%d,%d) zero bit-planes above %d", ErrConsistency, x, y, b.NumBitPlanes)
					}
				}
				cb.NonZeroBits = b.NumBitPlanes - cb.ZeroBitPlanes
				if cb.NumPasses, err = readPassCount(r); err != nil {
					return fmt.Errorf("code-block (%d,%d): %w", x, y, err)
				}
				if cb.NumPasses > max(3*cb.NonZeroBits-2, 0) {
					return fmt.Errorf("%w: code-block (%d,%d) has %d passes for %d bit-planes", ErrConsistency, x, y, cb.NumPasses, cb.NonZeroBits)
				}
				if cb.Length, err = readLength(r, cb); err != nil {
					return fmt.Errorf("code-block (%d,%d): %w", x, y, err)
				}
			}
		}
	}
	return nil
}

// writePassCount emits the Table B.4 codeword for n passes.
func writePassCount(w SignallingWriter, n int) error {
	switch {
	case n < 1 || n > maxSignalledPasses:
		return fmt.Errorf("%w: %d passes cannot be signalled", ErrCapacityExceeded, n)
	case n == 1:
		return w.WriteBits(0, 1)
	case n == 2:
		return w.WriteBits(0x2, 2)
	case n <= 5:
		return w.WriteBits(0xC|uint32(n-3), 4)
	case n <= 36:
		return w.WriteBits(0x1E0|uint32(n-6), 9)
	default:
		return w.WriteBits(0xFF80|uint32(n-37), 16)
	}
}

func readPassCount(r SignallingReader) (int, error) {
	if bit, err := r.ReadBit(); err != nil || bit == 0 {
		return 1, err
	}
	if bit, err := r.ReadBit(); err != nil || bit == 0 {
		return 2, err
	}
	v, err := r.ReadBits(2)
	if err != nil || v < 3 {
		return 3 + int(v), err
	}
	if v, err = r.ReadBits(5); err != nil || v < 31 {
		return 6 + int(v), err
	}
	v, err = r.ReadBits(7)
	return 37 + int(v), err
}

// lengthBits is the width of the length field of a contribution of n passes.
func lengthBits(lblock, n int) int {
	return lblock + bits.Len(uint(n)) - 1
}

// writeLength emits the Lblock increment as a comma code followed by the
// length field (B.10.7.1), updating cb.Lblock.
func writeLength(w SignallingWriter, cb *Codeblock, length int) error {
	lblock := 3
	for length >= 1<<lengthBits(lblock, cb.NumPasses) {
		if err := w.WriteBit(1); err != nil {
			return err
		}
		lblock++
	}
	if err := w.WriteBit(0); err != nil {
		return err
	}
	n := lengthBits(lblock, cb.NumPasses)
	if n > maxLengthBits {
		return fmt.Errorf("%w: %d coded bytes", ErrCapacityExceeded, length)
	}
	cb.Lblock = lblock
	return w.WriteBits(uint32(length), n)
}

func readLength(r SignallingReader, cb *Codeblock) (int, error) {
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 0 {
			break
		}
		cb.Lblock++
		if lengthBits(cb.Lblock, cb.NumPasses) > maxLengthBits {
			return 0, fmt.Errorf("%w: length field wider than %d bits", ErrConsistency, maxLengthBits)
		}
	}
	v, err := r.ReadBits(lengthBits(cb.Lblock, cb.NumPasses))
	return int(v), err
}
