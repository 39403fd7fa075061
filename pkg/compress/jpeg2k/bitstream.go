package jpeg2k

import (
	"bufio"
	"io"
)

var (
	_ BitSink   = (*BitWriter)(nil)
	_ BitSource = (*BitReader)(nil)
)

// BitReader reads bits MSB first from a byte stream.
// Plain bit I/O, no JPEG 2000 bit stuffing.
type BitReader struct {
	r    *bufio.Reader
	buf  uint32 // Bit buffer
	bits int    // Number of valid bits in buffer (0-32)
}

// NewBitReader creates a new bit reader
func NewBitReader(r io.Reader) *BitReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &BitReader{r: br}
}

// ReadBit reads a single bit
func (b *BitReader) ReadBit() (int, error) {
	if b.bits == 0 {
		if err := b.fill(); err != nil {
			return 0, err
		}
	}
	b.bits--
	return int((b.buf >> b.bits) & 1), nil
}

// ReadBits reads n bits (n <= 25)
func (b *BitReader) ReadBits(n int) (uint32, error) {
	for b.bits < n {
		if err := b.fill(); err != nil {
			return 0, err
		}
	}
	b.bits -= n
	return (b.buf >> b.bits) & ((1 << n) - 1), nil
}

func (b *BitReader) fill() error {
	c, err := b.r.ReadByte()
	if err != nil {
		return err
	}
	b.buf = (b.buf << 8) | uint32(c)
	b.bits += 8
	return nil
}

// Align discards bits to reach byte boundary
func (b *BitReader) Align() {
	b.bits = 0
	b.buf = 0
}

// BitWriter writes bits MSB first to a byte stream
type BitWriter struct {
	w     *bufio.Writer
	buf   uint32 // Bit buffer
	bits  int    // Number of valid bits in buffer
	total int    // Bits written since creation
}

// NewBitWriter creates a new bit writer
func NewBitWriter(w io.Writer) *BitWriter {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &BitWriter{w: bw}
}

// WriteBit writes a single bit
func (b *BitWriter) WriteBit(bit int) error {
	b.buf = (b.buf << 1) | uint32(bit&1)
	b.bits++
	b.total++
	if b.bits == 8 {
		return b.flushByte()
	}
	return nil
}

// WriteBits writes n bits from val (n <= 24)
func (b *BitWriter) WriteBits(val uint32, n int) error {
	b.buf = (b.buf << n) | (val & ((1 << n) - 1))
	b.bits += n
	b.total += n
	for b.bits >= 8 {
		if err := b.flushByte(); err != nil {
			return err
		}
	}
	return nil
}

func (b *BitWriter) flushByte() error {
	shift := b.bits - 8
	c := byte(b.buf >> shift)
	b.bits = shift
	b.buf &= (1 << shift) - 1
	return b.w.WriteByte(c)
}

// Len returns the number of bits written
func (b *BitWriter) Len() int {
	return b.total
}

// Flush pads the last byte with zeros and flushes
func (b *BitWriter) Flush() error {
	if b.bits > 0 {
		b.buf <<= 8 - b.bits
		b.bits = 8
		if err := b.flushByte(); err != nil {
			return err
		}
	}
	return b.w.Flush()
}

// ByteReader reads big-endian fields with buffering
type ByteReader struct {
	r *bufio.Reader
}

// NewByteReader creates a new byte reader
func NewByteReader(r io.Reader) *ByteReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ByteReader{r: br}
}

// ReadByte reads a single byte
func (b *ByteReader) ReadByte() (byte, error) {
	return b.r.ReadByte()
}

// ReadUint16 reads a big-endian uint16
func (b *ByteReader) ReadUint16() (uint16, error) {
	v, err := b.readN(2)
	return uint16(v), err
}

// ReadUint32 reads a big-endian uint32
func (b *ByteReader) ReadUint32() (uint32, error) {
	v, err := b.readN(4)
	return uint32(v), err
}

// ReadUint64 reads a big-endian uint64
func (b *ByteReader) ReadUint64() (uint64, error) {
	return b.readN(8)
}

func (b *ByteReader) readN(n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		c, err := b.r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// ReadBytes reads n bytes
func (b *ByteReader) ReadBytes(n int) ([]byte, error) {
	data := make([]byte, n)
	_, err := io.ReadFull(b.r, data)
	return data, err
}

// BitReader returns a bit reader sharing b's buffer. Bits start at the next
// unread byte and whole bytes are consumed.
func (b *ByteReader) BitReader() *BitReader {
	return NewBitReader(b.r)
}

// ByteWriter writes big-endian fields with buffering
type ByteWriter struct {
	w *bufio.Writer
}

// NewByteWriter creates a new byte writer
func NewByteWriter(w io.Writer) *ByteWriter {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &ByteWriter{w: bw}
}

// WriteByte writes a single byte
func (b *ByteWriter) WriteByte(c byte) error {
	return b.w.WriteByte(c)
}

// WriteUint16 writes a big-endian uint16
func (b *ByteWriter) WriteUint16(v uint16) error {
	return b.writeN(uint64(v), 2)
}

// WriteUint32 writes a big-endian uint32
func (b *ByteWriter) WriteUint32(v uint32) error {
	return b.writeN(uint64(v), 4)
}

// WriteUint64 writes a big-endian uint64
func (b *ByteWriter) WriteUint64(v uint64) error {
	return b.writeN(v, 8)
}

func (b *ByteWriter) writeN(v uint64, n int) error {
	for i := (n - 1) * 8; i >= 0; i -= 8 {
		if err := b.w.WriteByte(byte(v >> i)); err != nil {
			return err
		}
	}
	return nil
}

// WriteBytes writes multiple bytes
func (b *ByteWriter) WriteBytes(data []byte) error {
	_, err := b.w.Write(data)
	return err
}

// BitWriter returns a bit writer sharing b's buffer. Flush it before
// writing bytes again.
func (b *ByteWriter) BitWriter() *BitWriter {
	return NewBitWriter(b.w)
}

// Flush flushes the buffer
func (b *ByteWriter) Flush() error {
	return b.w.Flush()
}
