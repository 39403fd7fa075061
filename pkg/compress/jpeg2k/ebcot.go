package jpeg2k

import (
	"fmt"
	"image"
	"math/bits"
)

// EBCOT implements the Embedded Block Coding with Optimal Truncation
// as specified in ITU-T T.800 Annex D.

// maxT1BitPlanes bounds the magnitude bit-planes a code-block may carry so
// squared errors stay within int64.
const maxT1BitPlanes = 31

// Pass records the cumulative state after a coding pass.
type Pass struct {
	Rate       int   // Coded bytes needed to decode up to this pass
	Distortion int64 // Squared error removed by all passes up to this one
}

// Codeblock holds one code-block's Tier-1 output and the signalling state
// packet headers need.
type Codeblock struct {
	Bounds            image.Rectangle // Band coordinates
	Data              []byte          // Coded bytes
	Passes            []Pass
	NumPasses         int
	NumIncludedPasses int // Passes included so far (decoder side)
	NonZeroBits       int // Magnitude bit-planes actually coded
	ZeroBitPlanes     int // Mb - NonZeroBits
	Lblock            int
	Zero              bool // No significant coefficient
	Length            int
	LengthInc         int
}

// reset clears coding output and signalling state.
func (cb *Codeblock) reset() {
	cb.Data = cb.Data[:0]
	cb.Passes = cb.Passes[:0]
	cb.NumPasses = 0
	cb.NumIncludedPasses = 0
	cb.NonZeroBits = 0
	cb.ZeroBitPlanes = 0
	cb.Lblock = 3
	cb.Zero = false
	cb.Length = 0
	cb.LengthInc = 0
}

// T1Option configures a code-block encoder or decoder.
type T1Option func(*t1Config)

type t1Config struct {
	maxCodedBytes int
	maxPasses     int
}

// WithMaxCodedBytes limits the coded bytes of a single code-block.
func WithMaxCodedBytes(n int) T1Option {
	return func(c *t1Config) { c.maxCodedBytes = n }
}

// WithMaxPasses limits the coding passes of a single code-block.
func WithMaxPasses(n int) T1Option {
	return func(c *t1Config) { c.maxPasses = n }
}

func newT1Config(opts []T1Option) t1Config {
	c := t1Config{maxCodedBytes: DefaultMaxCodedBytes, maxPasses: DefaultMaxPasses}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// t1Window is the coding state shared by encoder and decoder: flags with a
// border, magnitudes and the current block geometry.
type t1Window struct {
	fw     *flagWindow
	mag    []int
	w, h   int
	orient Subband
	style  byte
}

func newT1Window() t1Window {
	return t1Window{
		fw:  newFlagWindow(MaxCodeblockWidth, MaxCodeblockHeight),
		mag: make([]int, MaxCodeblockWidth*MaxCodeblockHeight),
	}
}

func (t *t1Window) reset(cb *Codeblock, o Subband, style byte) error {
	if style&^codeBlockStylesSupported != 0 {
		return fmt.Errorf("%w: %w: code-block style 0x%02X", ErrConfiguration, ErrUnsupported, style)
	}
	if o < SubbandLL || o > SubbandHH {
		return fmt.Errorf("%w: orientation %d", ErrConfiguration, o)
	}
	w, h := cb.Bounds.Dx(), cb.Bounds.Dy()
	if w <= 0 || h <= 0 || w > MaxCodeblockWidth || h > MaxCodeblockHeight {
		return fmt.Errorf("%w: code-block size %dx%d", ErrConfiguration, w, h)
	}
	t.w, t.h, t.orient, t.style = w, h, o, style
	t.fw.reset(w, h)
	t.mag = t.mag[:w*h]
	clear(t.mag)
	return nil
}

// ctxFlags returns the flags of (x, y) as seen by context formation in the
// stripe starting at y0.
func (t *t1Window) ctxFlags(x, y, y0 int) Flags {
	f := t.fw.at(x, y)
	if t.style&CodeBlockVerticalCausal != 0 && y == y0+3 {
		f &= vscMask
	}
	return f
}

// runLengthEligible reports whether column x of the stripe at y0 is coded in
// run-length mode: a full stripe with nothing significant or visited nearby.
func (t *t1Window) runLengthEligible(x, y0 int) bool {
	if y0+3 >= t.h {
		return false
	}
	for y := y0; y < y0+4; y++ {
		if t.ctxFlags(x, y, y0)&(FlagSigNeighbors|FlagVisited|FlagSignificant) != 0 {
			return false
		}
	}
	return true
}

func (t *t1Window) clearVisited(x, y int) {
	t.fw.flags[t.fw.index(x, y)] &^= FlagVisited
}

func (t *t1Window) setFlag(x, y int, f Flags) {
	t.fw.flags[t.fw.index(x, y)] |= f
}

func checkStride(n, w, h, stride int) error {
	if stride < w || n < (h-1)*stride+w {
		return fmt.Errorf("%w: buffer of %d with stride %d cannot hold %dx%d", ErrConfiguration, n, stride, w, h)
	}
	return nil
}

// recon returns the mid-point reconstruction of m once bit-planes down to bp
// are known.
func recon(m, bp int) int {
	return ((m >> bp) << bp) + ((1 << bp) >> 1)
}

func sq(v int) int64 {
	return int64(v) * int64(v)
}

// CodeBlockEncoder encodes a code-block using EBCOT Tier-1
type CodeBlockEncoder struct {
	t1Window
	cfg    t1Config
	mqEnc  *MQEncoder
	neg    []bool
	errSq  int64 // Current squared reconstruction error
	errSq0 int64
}

// NewCodeBlockEncoder creates a new code-block encoder
func NewCodeBlockEncoder(opts ...T1Option) *CodeBlockEncoder {
	return &CodeBlockEncoder{
		t1Window: newT1Window(),
		cfg:      newT1Config(opts),
		mqEnc:    NewMQEncoder(),
		neg:      make([]bool, MaxCodeblockWidth*MaxCodeblockHeight),
	}
}

// Encode codes the coefficients of cb, read from coeffs[y*stride+x], with the
// MQ coder and stores the coded bytes and pass table in cb.
func (e *CodeBlockEncoder) Encode(cb *Codeblock, coeffs []int, stride int, o Subband, style byte) error {
	e.mqEnc.Reset()
	return e.EncodeWith(e.mqEnc, cb, coeffs, stride, o, style)
}

// EncodeWith is Encode against an arbitrary arithmetic coder.
func (e *CodeBlockEncoder) EncodeWith(enc ArithmeticEncoder, cb *Codeblock, coeffs []int, stride int, o Subband, style byte) error {
	if err := e.reset(cb, o, style); err != nil {
		return err
	}
	if err := checkStride(len(coeffs), e.w, e.h, stride); err != nil {
		return err
	}

	e.neg = e.neg[:e.w*e.h]
	maxMag := 0
	e.errSq = 0
	for y := 0; y < e.h; y++ {
		for x := 0; x < e.w; x++ {
			v := coeffs[y*stride+x]
			i := y*e.w + x
			e.neg[i] = v < 0
			if v < 0 {
				v = -v
			}
			e.mag[i] = v
			maxMag = max(maxMag, v)
			e.errSq += sq(v)
		}
	}
	e.errSq0 = e.errSq

	cb.Data = cb.Data[:0]
	cb.Passes = cb.Passes[:0]
	cb.NonZeroBits = bits.Len(uint(maxMag))
	cb.Zero = cb.NonZeroBits == 0
	cb.NumPasses = 0
	cb.Length = 0
	if cb.Zero {
		return nil
	}
	if cb.NonZeroBits > maxT1BitPlanes {
		return fmt.Errorf("%w: %d magnitude bit-planes", ErrCapacityExceeded, cb.NonZeroBits)
	}
	numPasses := 3*cb.NonZeroBits - 2
	if numPasses > e.cfg.maxPasses {
		return fmt.Errorf("%w: %d coding passes, limit %d", ErrCapacityExceeded, numPasses, e.cfg.maxPasses)
	}

	enc.ResetContexts()
	bp := cb.NonZeroBits - 1
	passType := 2 // The top bit-plane only has a cleanup pass
	for p := 0; p < numPasses; p++ {
		switch passType {
		case 0:
			e.sigPropPass(enc, bp)
		case 1:
			e.magRefPass(enc, bp)
		default:
			e.cleanupPass(enc, bp)
		}
		if style&CodeBlockResetContext != 0 {
			enc.ResetContexts()
		}
		if n := enc.NumBytes(); n > e.cfg.maxCodedBytes {
			return fmt.Errorf("%w: %d coded bytes, limit %d", ErrCapacityExceeded, n, e.cfg.maxCodedBytes)
		}
		cb.Passes = append(cb.Passes, Pass{
			Rate:       enc.NumBytes() + 3,
			Distortion: e.errSq0 - e.errSq,
		})
		if passType == 2 {
			passType = 0
			bp--
		} else {
			passType++
		}
	}

	data := enc.Flush()
	if len(data) > e.cfg.maxCodedBytes {
		return fmt.Errorf("%w: %d coded bytes, limit %d", ErrCapacityExceeded, len(data), e.cfg.maxCodedBytes)
	}
	for i := range cb.Passes {
		cb.Passes[i].Rate = min(cb.Passes[i].Rate, len(data))
	}
	cb.Passes[len(cb.Passes)-1].Rate = len(data)

	cb.Data = append(cb.Data, data...)
	cb.NumPasses = numPasses
	cb.Length = len(data)
	return nil
}

// codeSign codes the sign of (x, y) and marks it significant at bit-plane bp.
func (e *CodeBlockEncoder) codeSign(enc ArithmeticEncoder, x, y, y0, bp int) {
	i := y*e.w + x
	cx, xorBit := SignContext(e.ctxFlags(x, y, y0))
	enc.EncodeBit(cx, boolInt(e.neg[i])^xorBit)
	e.fw.setSignificant(x, y, e.neg[i])

	m := e.mag[i]
	e.errSq += sq(m-recon(m, bp)) - sq(m)
}

// sigPropPass performs the significance propagation pass
func (e *CodeBlockEncoder) sigPropPass(enc ArithmeticEncoder, bp int) {
	for y0 := 0; y0 < e.h; y0 += 4 {
		for x := 0; x < e.w; x++ {
			for y := y0; y < y0+4 && y < e.h; y++ {
				f := e.ctxFlags(x, y, y0)
				if f&(FlagSignificant|FlagVisited) != 0 || f&FlagSigNeighbors == 0 {
					continue
				}
				bit := (e.mag[y*e.w+x] >> bp) & 1
				enc.EncodeBit(SignificanceContext(f, e.orient), bit)
				if bit == 1 {
					e.codeSign(enc, x, y, y0, bp)
				}
				e.setFlag(x, y, FlagVisited)
			}
		}
	}
}

// magRefPass performs the magnitude refinement pass
func (e *CodeBlockEncoder) magRefPass(enc ArithmeticEncoder, bp int) {
	for y0 := 0; y0 < e.h; y0 += 4 {
		for x := 0; x < e.w; x++ {
			for y := y0; y < y0+4 && y < e.h; y++ {
				f := e.ctxFlags(x, y, y0)
				if f&(FlagSignificant|FlagVisited) != FlagSignificant {
					continue
				}
				m := e.mag[y*e.w+x]
				enc.EncodeBit(RefinementContext(f), (m>>bp)&1)
				e.setFlag(x, y, FlagRefined)
				e.errSq += sq(m-recon(m, bp)) - sq(m-recon(m, bp+1))
			}
		}
	}
}

// cleanupPass performs the cleanup pass
func (e *CodeBlockEncoder) cleanupPass(enc ArithmeticEncoder, bp int) {
	for y0 := 0; y0 < e.h; y0 += 4 {
		for x := 0; x < e.w; x++ {
			y := y0
			runLength := e.runLengthEligible(x, y0)
			if runLength {
				rlen := 0
				for rlen < 4 && (e.mag[(y0+rlen)*e.w+x]>>bp)&1 == 0 {
					rlen++
				}
				enc.EncodeBit(CtxRunLength, boolInt(rlen != 4))
				if rlen == 4 {
					continue
				}
				enc.EncodeBit(CtxUniform, rlen>>1)
				enc.EncodeBit(CtxUniform, rlen&1)
				y = y0 + rlen
			}
			for ; y < y0+4 && y < e.h; y++ {
				f := e.ctxFlags(x, y, y0)
				if f&(FlagSignificant|FlagVisited) == 0 {
					bit := (e.mag[y*e.w+x] >> bp) & 1
					// The coefficient ending a run is known to be significant
					if !runLength {
						enc.EncodeBit(SignificanceContext(f, e.orient), bit)
					}
					if bit == 1 {
						e.codeSign(enc, x, y, y0, bp)
					}
				}
				runLength = false
				e.clearVisited(x, y)
			}
		}
	}
	if e.style&CodeBlockSegmentationSymbols != 0 {
		for _, b := range [4]int{1, 0, 1, 0} {
			enc.EncodeBit(CtxUniform, b)
		}
	}
}

// CodeBlockDecoder decodes a code-block using EBCOT Tier-1
type CodeBlockDecoder struct {
	t1Window
	cfg   t1Config
	mqDec *MQDecoder
	plane []int8 // Lowest bit-plane decoded per coefficient, -1 if insignificant
}

// NewCodeBlockDecoder creates a new code-block decoder
func NewCodeBlockDecoder(opts ...T1Option) *CodeBlockDecoder {
	return &CodeBlockDecoder{
		t1Window: newT1Window(),
		cfg:      newT1Config(opts),
		mqDec:    &MQDecoder{},
		plane:    make([]int8, MaxCodeblockWidth*MaxCodeblockHeight),
	}
}

// Decode replays the included passes of cb and writes the reconstructed
// coefficients to out[y*stride+x]. Coefficients still refining when the pass
// sequence ends are reconstructed at the mid-point of their interval.
func (d *CodeBlockDecoder) Decode(cb *Codeblock, out []int, stride int, o Subband, style byte) error {
	d.mqDec.Init(cb.Data)
	return d.DecodeWith(d.mqDec, cb, out, stride, o, style)
}

// DecodeWith is Decode against an arbitrary arithmetic decoder, which must
// be positioned at the start of cb's coded data.
func (d *CodeBlockDecoder) DecodeWith(dec ArithmeticDecoder, cb *Codeblock, out []int, stride int, o Subband, style byte) error {
	if err := d.reset(cb, o, style); err != nil {
		return err
	}
	if err := checkStride(len(out), d.w, d.h, stride); err != nil {
		return err
	}
	numPasses := cb.NumIncludedPasses
	if numPasses == 0 {
		numPasses = cb.NumPasses
	}
	switch {
	case cb.NonZeroBits < 0 || cb.NonZeroBits > maxT1BitPlanes:
		return fmt.Errorf("%w: %d magnitude bit-planes", ErrConsistency, cb.NonZeroBits)
	case numPasses < 0 || numPasses > max(3*cb.NonZeroBits-2, 0):
		return fmt.Errorf("%w: %d passes for %d bit-planes", ErrConsistency, numPasses, cb.NonZeroBits)
	case numPasses > d.cfg.maxPasses:
		return fmt.Errorf("%w: %d passes, limit %d", ErrConsistency, numPasses, d.cfg.maxPasses)
	case len(cb.Data) > d.cfg.maxCodedBytes:
		return fmt.Errorf("%w: %d coded bytes, limit %d", ErrConsistency, len(cb.Data), d.cfg.maxCodedBytes)
	}

	d.plane = d.plane[:d.w*d.h]
	for i := range d.plane {
		d.plane[i] = -1
	}

	bp := cb.NonZeroBits - 1
	passType := 2
	for p := 0; p < numPasses; p++ {
		switch passType {
		case 0:
			d.sigPropPass(dec, bp)
		case 1:
			d.magRefPass(dec, bp)
		default:
			if err := d.cleanupPass(dec, bp); err != nil {
				return err
			}
		}
		if style&CodeBlockResetContext != 0 {
			dec.ResetContexts()
		}
		if passType == 2 {
			passType = 0
			bp--
		} else {
			passType++
		}
	}

	for y := 0; y < d.h; y++ {
		for x := 0; x < d.w; x++ {
			i := y*d.w + x
			v := 0
			if p := d.plane[i]; p >= 0 {
				v = d.mag[i] + ((1 << p) >> 1)
				if d.fw.at(x, y).IsNegative() {
					v = -v
				}
			}
			out[y*stride+x] = v
		}
	}
	return nil
}

func (d *CodeBlockDecoder) decodeSign(dec ArithmeticDecoder, x, y, y0, bp int) {
	cx, xorBit := SignContext(d.ctxFlags(x, y, y0))
	negative := dec.DecodeBit(cx)^xorBit == 1
	d.fw.setSignificant(x, y, negative)
	i := y*d.w + x
	d.mag[i] = 1 << bp
	d.plane[i] = int8(bp)
}

func (d *CodeBlockDecoder) sigPropPass(dec ArithmeticDecoder, bp int) {
	for y0 := 0; y0 < d.h; y0 += 4 {
		for x := 0; x < d.w; x++ {
			for y := y0; y < y0+4 && y < d.h; y++ {
				f := d.ctxFlags(x, y, y0)
				if f&(FlagSignificant|FlagVisited) != 0 || f&FlagSigNeighbors == 0 {
					continue
				}
				if dec.DecodeBit(SignificanceContext(f, d.orient)) == 1 {
					d.decodeSign(dec, x, y, y0, bp)
				}
				d.setFlag(x, y, FlagVisited)
			}
		}
	}
}

func (d *CodeBlockDecoder) magRefPass(dec ArithmeticDecoder, bp int) {
	for y0 := 0; y0 < d.h; y0 += 4 {
		for x := 0; x < d.w; x++ {
			for y := y0; y < y0+4 && y < d.h; y++ {
				f := d.ctxFlags(x, y, y0)
				if f&(FlagSignificant|FlagVisited) != FlagSignificant {
					continue
				}
				i := y*d.w + x
				d.mag[i] |= dec.DecodeBit(RefinementContext(f)) << bp
				d.plane[i] = int8(bp)
				d.setFlag(x, y, FlagRefined)
			}
		}
	}
}

func (d *CodeBlockDecoder) cleanupPass(dec ArithmeticDecoder, bp int) error {
	for y0 := 0; y0 < d.h; y0 += 4 {
		for x := 0; x < d.w; x++ {
			y := y0
			known := false
			if d.runLengthEligible(x, y0) {
				if dec.DecodeBit(CtxRunLength) == 0 {
					continue
				}
				rlen := dec.DecodeBit(CtxUniform) << 1
				rlen |= dec.DecodeBit(CtxUniform)
				y = y0 + rlen
				known = true
			}
			for ; y < y0+4 && y < d.h; y++ {
				f := d.ctxFlags(x, y, y0)
				if known || f&(FlagSignificant|FlagVisited) == 0 {
					if known || dec.DecodeBit(SignificanceContext(f, d.orient)) == 1 {
						d.decodeSign(dec, x, y, y0, bp)
					}
				}
				known = false
				d.clearVisited(x, y)
			}
		}
	}
	if d.style&CodeBlockSegmentationSymbols != 0 {
		sym := 0
		for i := 0; i < 4; i++ {
			sym = sym<<1 | dec.DecodeBit(CtxUniform)
		}
		if sym != 0xA {
			return fmt.Errorf("%w: segmentation symbol 0x%X", ErrConsistency, sym)
		}
	}
	return nil
}
