package jpeg2k

import "sync"

// Context label tables (ITU-T T.800 Tables D.1, D.3 and D.4)
var (
	lutOnce    sync.Once
	sigCtxLUT  [256][4]uint8
	sgnCtxLUT  [16][16]uint8
	xorBitLUT  [16][16]uint8
	refCtxLUT  = [2][2]uint8{{CtxMagRefFirst, CtxMagRef}, {CtxMagRefNull, CtxMagRefNull}}
	contribTab = [3][3]int{{0, -1, 1}, {-1, -1, 0}, {1, 0, 1}}
	ctxLblTab  = [3][3]uint8{{13, 12, 11}, {10, 9, 10}, {11, 12, 13}}
	xorBitTab  = [3][3]uint8{{1, 1, 1}, {1, 0, 0}, {0, 0, 0}}
)

func initLUTs() {
	lutOnce.Do(func() {
		for f := 0; f < 256; f++ {
			for o := SubbandLL; o <= SubbandHH; o++ {
				sigCtxLUT[f][o] = uint8(sigCtx(Flags(f), o))
			}
		}
		for i := 0; i < 16; i++ {
			for j := 0; j < 16; j++ {
				sgnCtxLUT[i][j], xorBitLUT[i][j] = sgnCtx(Flags(i) | Flags(j)<<8)
			}
		}
	})
}

// SignificanceContext returns the zero coding context [0,8] of a coefficient
// whose neighbourhood is described by f, in a band of orientation o.
func SignificanceContext(f Flags, o Subband) int {
	initLUTs()
	return int(sigCtxLUT[f&FlagSigNeighbors][o&3])
}

// RefinementContext returns the magnitude refinement context {14,15,16}.
func RefinementContext(f Flags) int {
	r, nb := 0, 0
	if f&FlagRefined != 0 {
		r = 1
	}
	if f&FlagSigNeighbors != 0 {
		nb = 1
	}
	return int(refCtxLUT[r][nb])
}

// SignContext returns the sign coding context [9,13] and the bit the sign is
// XORed with before coding.
func SignContext(f Flags) (int, int) {
	initLUTs()
	i, j := f&0xF, (f>>8)&0xF
	return int(sgnCtxLUT[i][j]), int(xorBitLUT[i][j])
}

func sigCtx(f Flags, o Subband) int {
	h := boolInt(f&FlagSigE != 0) + boolInt(f&FlagSigW != 0)
	v := boolInt(f&FlagSigN != 0) + boolInt(f&FlagSigS != 0)
	d := boolInt(f&FlagSigNE != 0) + boolInt(f&FlagSigNW != 0) +
		boolInt(f&FlagSigSE != 0) + boolInt(f&FlagSigSW != 0)

	if o == SubbandHH {
		hv := h + v
		switch {
		case d >= 3:
			return 8
		case d == 2 && hv >= 1:
			return 7
		case d == 2:
			return 6
		case d == 1 && hv >= 2:
			return 5
		case d == 1 && hv == 1:
			return 4
		case d == 1:
			return 3
		case hv >= 2:
			return 2
		case hv == 1:
			return 1
		}
		return 0
	}

	if o == SubbandHL {
		h, v = v, h
	}
	switch {
	case h == 2:
		return 8
	case h == 1 && v >= 1:
		return 7
	case h == 1 && d >= 1:
		return 6
	case h == 1:
		return 5
	case v == 2:
		return 4
	case v == 1:
		return 3
	case d >= 2:
		return 2
	case d == 1:
		return 1
	}
	return 0
}

// neighbourState maps a direct neighbour to 0 (insignificant),
// 1 (significant negative) or 2 (significant positive).
func neighbourState(f, sig, sgn Flags) int {
	if f&sig == 0 {
		return 0
	}
	if f&sgn != 0 {
		return 1
	}
	return 2
}

func sgnCtx(f Flags) (uint8, uint8) {
	hc := contribTab[neighbourState(f, FlagSigE, FlagSgnE)][neighbourState(f, FlagSigW, FlagSgnW)] + 1
	vc := contribTab[neighbourState(f, FlagSigS, FlagSgnS)][neighbourState(f, FlagSigN, FlagSgnN)] + 1
	return ctxLblTab[hc][vc], xorBitTab[hc][vc]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
