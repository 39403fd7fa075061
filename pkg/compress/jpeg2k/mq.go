package jpeg2k

// MQ Arithmetic Coder implementation for JPEG 2000
// Based on ITU-T T.800 Annex C (Arithmetic entropy coding procedure)

// Context labels used by Tier-1 (Table D.7 numbering)
const (
	NumMQContexts  = 19
	CtxZCStart     = 0  // Significance (zero coding) contexts 0-8
	CtxSignStart   = 9  // Sign coding contexts 9-13
	CtxMagRefFirst = 14 // First refinement, no significant neighbour
	CtxMagRef      = 15 // First refinement, significant neighbour
	CtxMagRefNull  = 16 // Subsequent refinement
	CtxRunLength   = 17
	CtxUniform     = 18
)

// ArithmeticEncoder codes binary decisions against adaptive contexts.
type ArithmeticEncoder interface {
	EncodeBit(cx, bit int)
	ResetContexts()
	// NumBytes reports the bytes emitted so far, used for pass rates.
	NumBytes() int
	// Flush terminates the codeword and returns it.
	Flush() []byte
}

// ArithmeticDecoder is the decoding counterpart of ArithmeticEncoder.
type ArithmeticDecoder interface {
	DecodeBit(cx int) int
	ResetContexts()
}

// MQState represents the state of a context in the MQ coder
type MQState struct {
	Index int // Index into probability estimation table
	MPS   int // Most probable symbol (0 or 1)
}

// Probability estimation state table (ITU-T T.800 Table C.2)
type mqEntry struct {
	qe   uint32 // Probability estimate (Qe)
	nmps int    // Next state if MPS
	nlps int    // Next state if LPS
	swi  int    // Switch MPS and LPS on LPS occurrence
}

var mqTable = [47]mqEntry{
	{0x5601, 1, 1, 1},
	{0x3401, 2, 6, 0},
	{0x1801, 3, 9, 0},
	{0x0AC1, 4, 12, 0},
	{0x0521, 5, 29, 0},
	{0x0221, 38, 33, 0},
	{0x5601, 7, 6, 1},
	{0x5401, 8, 14, 0},
	{0x4801, 9, 14, 0},
	{0x3801, 10, 14, 0},
	{0x3001, 11, 17, 0},
	{0x2401, 12, 18, 0},
	{0x1C01, 13, 20, 0},
	{0x1601, 29, 21, 0},
	{0x5601, 15, 14, 1},
	{0x5401, 16, 14, 0},
	{0x5101, 17, 15, 0},
	{0x4801, 18, 16, 0},
	{0x3801, 19, 17, 0},
	{0x3401, 20, 18, 0},
	{0x3001, 21, 19, 0},
	{0x2801, 22, 19, 0},
	{0x2401, 23, 20, 0},
	{0x2201, 24, 21, 0},
	{0x1C01, 25, 22, 0},
	{0x1801, 26, 23, 0},
	{0x1601, 27, 24, 0},
	{0x1401, 28, 25, 0},
	{0x1201, 29, 26, 0},
	{0x1101, 30, 27, 0},
	{0x0AC1, 31, 28, 0},
	{0x09C1, 32, 29, 0},
	{0x08A1, 33, 30, 0},
	{0x0521, 34, 31, 0},
	{0x0441, 35, 32, 0},
	{0x02A1, 36, 33, 0},
	{0x0221, 37, 34, 0},
	{0x0141, 38, 35, 0},
	{0x0111, 39, 36, 0},
	{0x0085, 40, 37, 0},
	{0x0049, 41, 38, 0},
	{0x0025, 42, 39, 0},
	{0x0015, 43, 40, 0},
	{0x0009, 44, 41, 0},
	{0x0005, 45, 42, 0},
	{0x0001, 45, 43, 0},
	{0x5601, 46, 46, 0},
}

// SetupDefaultContexts returns EBCOT-initialized contexts (Table D.7)
func SetupDefaultContexts() [NumMQContexts]MQState {
	var contexts [NumMQContexts]MQState
	contexts[CtxZCStart] = MQState{Index: 4}
	contexts[CtxRunLength] = MQState{Index: 3}
	contexts[CtxUniform] = MQState{Index: 46}
	return contexts
}

// MQEncoder implements the MQ arithmetic encoder
type MQEncoder struct {
	buf      []byte // buf[0] is scratch preceding the codeword
	bp       int    // Index of the byte under construction
	a        uint32 // Interval size
	c        uint32 // Code register
	ct       int    // Bits until the next byte out
	contexts [NumMQContexts]MQState
}

// NewMQEncoder creates a new MQ encoder
func NewMQEncoder() *MQEncoder {
	e := &MQEncoder{buf: make([]byte, 1, 4096)}
	e.Reset()
	return e
}

// Reset resets encoder state and contexts
func (e *MQEncoder) Reset() {
	e.buf = e.buf[:1]
	e.buf[0] = 0
	e.bp = 0
	e.a = 0x8000
	e.c = 0
	e.ct = 12
	e.ResetContexts()
}

// ResetContexts restores the initial context states
func (e *MQEncoder) ResetContexts() {
	e.contexts = SetupDefaultContexts()
}

// EncodeBit encodes a bit with context label cx
func (e *MQEncoder) EncodeBit(cx, bit int) {
	e.Encode(bit, &e.contexts[cx])
}

// Encode encodes a bit with an explicit context state
func (e *MQEncoder) Encode(bit int, ctx *MQState) {
	entry := &mqTable[ctx.Index]
	qe := entry.qe
	e.a -= qe

	if bit == ctx.MPS {
		if e.a&0x8000 != 0 {
			e.c += qe
			return
		}
		if e.a < qe {
			e.a = qe
		} else {
			e.c += qe
		}
		ctx.Index = entry.nmps
		e.renorm()
		return
	}

	if e.a < qe {
		e.c += qe
	} else {
		e.a = qe
	}
	if entry.swi != 0 {
		ctx.MPS = 1 - ctx.MPS
	}
	ctx.Index = entry.nlps
	e.renorm()
}

func (e *MQEncoder) renorm() {
	for e.a < 0x8000 {
		e.a <<= 1
		e.c <<= 1
		e.ct--
		if e.ct == 0 {
			e.byteOut()
		}
	}
}

func (e *MQEncoder) byteOut() {
	if e.buf[e.bp] == 0xFF {
		e.put(byte(e.c >> 20))
		e.c &= 0xFFFFF
		e.ct = 7
		return
	}
	if e.c&0x8000000 == 0 {
		e.put(byte(e.c >> 19))
		e.c &= 0x7FFFF
		e.ct = 8
		return
	}
	// Carry into the byte under construction
	e.buf[e.bp]++
	if e.buf[e.bp] == 0xFF {
		e.c &= 0x7FFFFFF
		e.put(byte(e.c >> 20))
		e.c &= 0xFFFFF
		e.ct = 7
		return
	}
	e.put(byte(e.c >> 19))
	e.c &= 0x7FFFF
	e.ct = 8
}

func (e *MQEncoder) put(b byte) {
	e.bp++
	if e.bp == len(e.buf) {
		e.buf = append(e.buf, b)
		return
	}
	e.buf[e.bp] = b
}

// NumBytes returns the number of bytes emitted so far
func (e *MQEncoder) NumBytes() int {
	return e.bp
}

// Flush terminates the codeword (C.2.9) and returns it. The output is the
// short form: the trailing 0xFF 0xAC of the standard's flush are left out
// and a decoder feeds ones past the end instead.
func (e *MQEncoder) Flush() []byte {
	tmp := e.c + e.a
	e.c |= 0xFFFF
	if e.c >= tmp {
		e.c -= 0x8000
	}
	e.c <<= uint(e.ct)
	e.byteOut()
	e.c <<= uint(e.ct)
	e.byteOut()
	// A codeword never ends with 0xFF
	if e.buf[e.bp] != 0xFF {
		e.bp++
	}
	return e.Bytes()
}

// Bytes returns encoded data
func (e *MQEncoder) Bytes() []byte {
	end := min(e.bp, len(e.buf))
	return e.buf[1:end]
}

// MQDecoder implements the MQ arithmetic decoder
type MQDecoder struct {
	data     []byte // Codeword followed by a 0xFFFF sentinel
	bp       int    // Index of the last byte read
	a        uint32
	c        uint32
	ct       int
	contexts [NumMQContexts]MQState
}

// NewMQDecoder creates a new MQ decoder
func NewMQDecoder(data []byte) *MQDecoder {
	d := &MQDecoder{}
	d.Init(data)
	return d
}

// Init restarts decoding on a new codeword and resets the contexts
func (d *MQDecoder) Init(data []byte) {
	if cap(d.data) < len(data)+2 {
		d.data = make([]byte, len(data)+2)
	}
	d.data = d.data[:len(data)+2]
	copy(d.data, data)
	d.data[len(data)] = 0xFF
	d.data[len(data)+1] = 0xFF
	d.bp = 0
	d.c = uint32(d.data[0]) << 16
	d.byteIn()
	d.c <<= 7
	d.ct -= 7
	d.a = 0x8000
	d.ResetContexts()
}

// ResetContexts restores the initial context states
func (d *MQDecoder) ResetContexts() {
	d.contexts = SetupDefaultContexts()
}

func (d *MQDecoder) byteIn() {
	if d.data[d.bp] == 0xFF {
		if d.data[d.bp+1] > 0x8F {
			// Marker or end of data: feed ones
			d.c += 0xFF00
			d.ct = 8
			return
		}
		d.bp++
		d.c += uint32(d.data[d.bp]) << 9
		d.ct = 7
		return
	}
	d.bp++
	d.c += uint32(d.data[d.bp]) << 8
	d.ct = 8
}

// DecodeBit decodes a bit with context label cx
func (d *MQDecoder) DecodeBit(cx int) int {
	return d.Decode(&d.contexts[cx])
}

// Decode decodes a bit with an explicit context state
func (d *MQDecoder) Decode(ctx *MQState) int {
	entry := &mqTable[ctx.Index]
	qe := entry.qe
	d.a -= qe

	var bit int
	if d.c>>16 < qe {
		// LPS sub-interval, conditional exchange
		if d.a < qe {
			bit = ctx.MPS
			ctx.Index = entry.nmps
		} else {
			bit = 1 - ctx.MPS
			if entry.swi != 0 {
				ctx.MPS = 1 - ctx.MPS
			}
			ctx.Index = entry.nlps
		}
		d.a = qe
		d.renorm()
		return bit
	}

	d.c -= qe << 16
	if d.a&0x8000 != 0 {
		return ctx.MPS
	}
	if d.a < qe {
		bit = 1 - ctx.MPS
		if entry.swi != 0 {
			ctx.MPS = 1 - ctx.MPS
		}
		ctx.Index = entry.nlps
	} else {
		bit = ctx.MPS
		ctx.Index = entry.nmps
	}
	d.renorm()
	return bit
}

func (d *MQDecoder) renorm() {
	for d.a < 0x8000 {
		if d.ct == 0 {
			d.byteIn()
		}
		d.a <<= 1
		d.c <<= 1
		d.ct--
	}
}
