package jpeg2k

import "fmt"

// Structural limits (ITU-T T.800 Annex A)
const (
	MaxResLevels       = 33 // 32 decomposition levels + 1
	MaxCodeblockWidth  = 64
	MaxCodeblockHeight = 64
	MaxPrecinctExp     = 15
	MaxBitDepth        = 38
)

// ProgressionOrder defines the progression order for JPEG 2000 codestream
type ProgressionOrder byte

const (
	ProgressionLRCP ProgressionOrder = 0 // Layer-Resolution-Component-Position
	ProgressionRLCP ProgressionOrder = 1 // Resolution-Layer-Component-Position
	ProgressionRPCL ProgressionOrder = 2 // Resolution-Position-Component-Layer
	ProgressionPCRL ProgressionOrder = 3 // Position-Component-Resolution-Layer
	ProgressionCPRL ProgressionOrder = 4 // Component-Position-Resolution-Layer
)

// String returns the progression order name
func (p ProgressionOrder) String() string {
	switch p {
	case ProgressionLRCP:
		return "LRCP"
	case ProgressionRLCP:
		return "RLCP"
	case ProgressionRPCL:
		return "RPCL"
	case ProgressionPCRL:
		return "PCRL"
	case ProgressionCPRL:
		return "CPRL"
	default:
		return "Unknown"
	}
}

// CodingStyle flags (ITU-T T.800 Table A.13)
const (
	CodingStylePrecinctsUser = 0x01 // Custom precinct sizes
	CodingStyleSOPMarker     = 0x02 // SOP marker segments used
	CodingStyleEPHMarker     = 0x04 // EPH marker segments used
)

// CodeBlockStyle flags (ITU-T T.800 Table A.15)
const (
	CodeBlockSelectiveBypass        = 0x01 // Selective arithmetic coding bypass
	CodeBlockResetContext           = 0x02 // Reset context on coding pass boundary
	CodeBlockTermOnPass             = 0x04 // Termination on each coding pass
	CodeBlockVerticalCausal         = 0x08 // Vertically causal context
	CodeBlockPredictableTermination = 0x10 // Predictable termination
	CodeBlockSegmentationSymbols    = 0x20 // Segmentation symbols used
)

// codeBlockStylesSupported are the Tier-1 modes this coder implements.
const codeBlockStylesSupported = CodeBlockResetContext | CodeBlockVerticalCausal | CodeBlockSegmentationSymbols

// TransformType identifies the wavelet transform type
type TransformType byte

const (
	TransformIrreversible97 TransformType = 0 // 9/7 irreversible (lossy)
	TransformReversible53   TransformType = 1 // 5/3 reversible (lossless)
)

// QuantizationStyle identifies the quantization style (Sqcd low bits, Table A.28)
type QuantizationStyle byte

const (
	QuantizationNone            QuantizationStyle = 0 // No quantization, exponents only
	QuantizationScalarDerived   QuantizationStyle = 1 // One step size, others derived from it
	QuantizationScalarExpounded QuantizationStyle = 2 // One step size per subband
)

// String returns the quantization style name
func (q QuantizationStyle) String() string {
	switch q {
	case QuantizationNone:
		return "none"
	case QuantizationScalarDerived:
		return "scalar-derived"
	case QuantizationScalarExpounded:
		return "scalar-expounded"
	default:
		return "Unknown"
	}
}

// Subband identifies a subband in the DWT decomposition. The value doubles as
// the orientation index of the significance context tables.
type Subband int

const (
	SubbandLL Subband = 0 // Low-Low (approximation)
	SubbandHL Subband = 1 // High-Low (horizontal detail)
	SubbandLH Subband = 2 // Low-High (vertical detail)
	SubbandHH Subband = 3 // High-High (diagonal detail)
)

// String returns the subband name
func (s Subband) String() string {
	switch s {
	case SubbandLL:
		return "LL"
	case SubbandHL:
		return "HL"
	case SubbandLH:
		return "LH"
	case SubbandHH:
		return "HH"
	default:
		return "Unknown"
	}
}

// Gain returns log2 of the nominal dynamic range gain of the subband (E.1.1.1).
func (s Subband) Gain() int {
	switch s {
	case SubbandHL, SubbandLH:
		return 1
	case SubbandHH:
		return 2
	default:
		return 0
	}
}

// offsets returns the (xo, yo) high-pass indicators of the subband.
func (s Subband) offsets() (int, int) {
	switch s {
	case SubbandHL:
		return 1, 0
	case SubbandLH:
		return 0, 1
	case SubbandHH:
		return 1, 1
	default:
		return 0, 0
	}
}

// CodingStyle holds coding style parameters (ITU-T T.800 A.6.1)
type CodingStyle struct {
	Scod               byte             // Coding style
	Progression        ProgressionOrder // Progression order
	NumLayers          int              // Number of quality layers
	MCT                byte             // Multiple component transform (0=none, 1=RCT/ICT)
	DecompLevels       int              // Number of decomposition levels
	CodeBlockWidthExp  int              // Code-block width exponent (add 2)
	CodeBlockHeightExp int              // Code-block height exponent (add 2)
	CodeBlockStyle     byte             // Code-block style flags
	Transform          TransformType    // Wavelet transform type
	PrecinctSizes      []byte           // Per resolution level PPx | PPy<<4 (if Scod & 0x01)
}

// DefaultCodingStyle returns a lossless coding style with 64x64 code-blocks
// and maximal precincts.
func DefaultCodingStyle(decompLevels int) *CodingStyle {
	return &CodingStyle{
		Progression:        ProgressionLRCP,
		NumLayers:          1,
		DecompLevels:       decompLevels,
		CodeBlockWidthExp:  4,
		CodeBlockHeightExp: 4,
		Transform:          TransformReversible53,
	}
}

// NumResLevels returns the number of resolution levels
func (c *CodingStyle) NumResLevels() int {
	return c.DecompLevels + 1
}

// CodeBlockWidth returns the nominal code-block width
func (c *CodingStyle) CodeBlockWidth() int {
	return 1 << (c.CodeBlockWidthExp + 2)
}

// CodeBlockHeight returns the nominal code-block height
func (c *CodingStyle) CodeBlockHeight() int {
	return 1 << (c.CodeBlockHeightExp + 2)
}

// PrecinctExp returns the precinct size exponents (PPx, PPy) of resolution r.
func (c *CodingStyle) PrecinctExp(r int) (int, int) {
	if c.Scod&CodingStylePrecinctsUser == 0 || r >= len(c.PrecinctSizes) {
		return MaxPrecinctExp, MaxPrecinctExp
	}
	v := c.PrecinctSizes[r]
	return int(v & 0x0F), int(v >> 4)
}

// Validate checks the parameters Tier-1 and the hierarchy depend on.
func (c *CodingStyle) Validate() error {
	if c.DecompLevels < 0 || c.NumResLevels() > MaxResLevels {
		return fmt.Errorf("%w: %d decomposition levels", ErrConfiguration, c.DecompLevels)
	}
	xcb, ycb := c.CodeBlockWidthExp+2, c.CodeBlockHeightExp+2
	if xcb < 2 || xcb > 6 || ycb < 2 || ycb > 6 {
		return fmt.Errorf("%w: code-block exponents %dx%d outside [2,6]", ErrConfiguration, xcb, ycb)
	}
	if c.CodeBlockStyle&^codeBlockStylesSupported != 0 {
		return fmt.Errorf("%w: %w: code-block style 0x%02X", ErrConfiguration, ErrUnsupported, c.CodeBlockStyle)
	}
	if c.Scod&CodingStylePrecinctsUser != 0 && len(c.PrecinctSizes) < c.NumResLevels() {
		return fmt.Errorf("%w: %d precinct sizes for %d resolution levels", ErrConfiguration, len(c.PrecinctSizes), c.NumResLevels())
	}
	for r := 0; r < c.NumResLevels(); r++ {
		ppx, ppy := c.PrecinctExp(r)
		if r > 0 && (ppx < 1 || ppy < 1) {
			return fmt.Errorf("%w: precinct exponents %dx%d at resolution %d", ErrConfiguration, ppx, ppy, r)
		}
	}
	return nil
}

// QuantStyle holds quantization parameters (ITU-T T.800 A.6.4)
type QuantStyle struct {
	Style     QuantizationStyle // Quantization style
	GuardBits int               // Number of guard bits
	Exponents []uint8           // Per subband exponent (one entry for scalar derived)
	Mantissas []uint16          // Per subband mantissa (unused for QuantizationNone)
}

// ReversibleQuantStyle returns the exponents a lossless encoder signals for
// bitDepth-bit samples: one per subband, LL first then HL, LH, HH per level.
func ReversibleQuantStyle(decompLevels, bitDepth, guardBits int) *QuantStyle {
	q := &QuantStyle{
		Style:     QuantizationNone,
		GuardBits: guardBits,
		Exponents: make([]uint8, 3*decompLevels+1),
	}
	q.Exponents[0] = uint8(bitDepth + SubbandLL.Gain())
	for i := 1; i < len(q.Exponents); i++ {
		q.Exponents[i] = uint8(bitDepth + Subband((i-1)%3+1).Gain())
	}
	return q
}

// Validate checks the tables cover the decomposition.
func (q *QuantStyle) Validate(decompLevels int) error {
	if q.GuardBits < 0 || q.GuardBits > 7 {
		return fmt.Errorf("%w: %d guard bits", ErrConfiguration, q.GuardBits)
	}
	need := 3*decompLevels + 1
	switch q.Style {
	case QuantizationNone:
		if len(q.Exponents) < need {
			return fmt.Errorf("%w: %d exponents for %d subbands", ErrConfiguration, len(q.Exponents), need)
		}
	case QuantizationScalarDerived:
		if len(q.Exponents) < 1 || len(q.Mantissas) < 1 {
			return fmt.Errorf("%w: scalar derived quantization without a step size", ErrConfiguration)
		}
	case QuantizationScalarExpounded:
		if len(q.Exponents) < need || len(q.Mantissas) < need {
			return fmt.Errorf("%w: %d step sizes for %d subbands", ErrConfiguration, min(len(q.Exponents), len(q.Mantissas)), need)
		}
	default:
		return fmt.Errorf("%w: quantization style %d", ErrConfiguration, q.Style)
	}
	return nil
}

// stepSize returns the exponent, mantissa pair of global subband index gband
// sitting nb decomposition levels deep.
func (q *QuantStyle) stepSize(gband, nb, decompLevels int) (int, int) {
	switch q.Style {
	case QuantizationScalarDerived:
		// E-5: exponents derived from the LL step size
		return int(q.Exponents[0]) - decompLevels + nb, int(q.Mantissas[0])
	case QuantizationScalarExpounded:
		return int(q.Exponents[gband]), int(q.Mantissas[gband])
	default:
		return int(q.Exponents[gband]), 0
	}
}
