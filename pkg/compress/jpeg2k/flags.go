package jpeg2k

// Flags is the per-coefficient Tier-1 state word. The low byte records which
// of the eight neighbours are significant, the next nibble the signs of the
// four direct neighbours, the top nibble the coefficient's own state.
type Flags uint16

const (
	FlagSigN  Flags = 0x0001
	FlagSigE  Flags = 0x0002
	FlagSigW  Flags = 0x0004
	FlagSigS  Flags = 0x0008
	FlagSigNE Flags = 0x0010
	FlagSigNW Flags = 0x0020
	FlagSigSE Flags = 0x0040
	FlagSigSW Flags = 0x0080

	FlagSgnN Flags = 0x0100
	FlagSgnS Flags = 0x0200
	FlagSgnW Flags = 0x0400
	FlagSgnE Flags = 0x0800

	FlagVisited     Flags = 0x1000
	FlagSignificant Flags = 0x2000
	FlagRefined     Flags = 0x4000
	FlagSign        Flags = 0x8000

	FlagSigNeighbors Flags = 0x00FF
)

// vscMask clears what a vertically causal context may not see: the row
// below the last row of a stripe.
const vscMask = ^(FlagSigS | FlagSigSE | FlagSigSW | FlagSgnS)

// Direction names a neighbour position.
type Direction int

const (
	North Direction = iota
	East
	West
	South
	NorthEast
	NorthWest
	SouthEast
	SouthWest
)

var (
	dirSig = [...]Flags{FlagSigN, FlagSigE, FlagSigW, FlagSigS, FlagSigNE, FlagSigNW, FlagSigSE, FlagSigSW}
	dirSgn = [...]Flags{FlagSgnN, FlagSgnE, FlagSgnW, FlagSgnS}
)

func (f Flags) IsSignificant() bool { return f&FlagSignificant != 0 }
func (f Flags) IsVisited() bool     { return f&FlagVisited != 0 }
func (f Flags) IsRefined() bool     { return f&FlagRefined != 0 }
func (f Flags) IsNegative() bool    { return f&FlagSign != 0 }

// HasSignificantNeighbor reports whether any of the eight neighbours is significant.
func (f Flags) HasSignificantNeighbor() bool { return f&FlagSigNeighbors != 0 }

// NeighborSignificant reports whether the neighbour in direction d is significant.
func (f Flags) NeighborSignificant(d Direction) bool {
	if d < North || int(d) >= len(dirSig) {
		return false
	}
	return f&dirSig[d] != 0
}

// NeighborNegative reports whether the neighbour in direction d is significant
// and negative. Only the four direct neighbours carry a sign.
func (f Flags) NeighborNegative(d Direction) bool {
	if d < North || int(d) >= len(dirSgn) {
		return false
	}
	return f&dirSig[d] != 0 && f&dirSgn[d] != 0
}

// flagWindow is a codeblock's flag array with a one-coefficient border, so
// neighbour updates never need bounds checks.
type flagWindow struct {
	w, h   int
	stride int
	flags  []Flags
}

func newFlagWindow(maxW, maxH int) *flagWindow {
	return &flagWindow{flags: make([]Flags, (maxW+2)*(maxH+2))}
}

// reset resizes the window to w x h and clears every flag, border included.
func (fw *flagWindow) reset(w, h int) {
	fw.w, fw.h, fw.stride = w, h, w+2
	n := (w + 2) * (h + 2)
	if cap(fw.flags) < n {
		fw.flags = make([]Flags, n)
	}
	fw.flags = fw.flags[:n]
	clear(fw.flags)
}

func (fw *flagWindow) index(x, y int) int {
	return (y+1)*fw.stride + x + 1
}

// at returns the flags of coefficient (x, y); x or y may be -1 or the
// width/height to address the border.
func (fw *flagWindow) at(x, y int) Flags {
	return fw.flags[fw.index(x, y)]
}

// setSignificant marks (x, y) significant and publishes its significance and
// sign to the eight neighbours.
func (fw *flagWindow) setSignificant(x, y int, negative bool) {
	i := fw.index(x, y)
	s := fw.stride
	f := fw.flags

	f[i] |= FlagSignificant
	if negative {
		f[i] |= FlagSign
		f[i+1] |= FlagSigW | FlagSgnW
		f[i-1] |= FlagSigE | FlagSgnE
		f[i+s] |= FlagSigN | FlagSgnN
		f[i-s] |= FlagSigS | FlagSgnS
	} else {
		f[i+1] |= FlagSigW
		f[i-1] |= FlagSigE
		f[i+s] |= FlagSigN
		f[i-s] |= FlagSigS
	}
	f[i+s+1] |= FlagSigNW
	f[i+s-1] |= FlagSigNE
	f[i-s+1] |= FlagSigSW
	f[i-s-1] |= FlagSigSE
}
