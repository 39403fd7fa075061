package jpeg2k

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCeilDiv(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{0, 1, 0},
		{7, 2, 4},
		{8, 2, 4},
		{-7, 2, -3},
		{-8, 4, -2},
		{1, 255, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CeilDiv(tt.a, tt.b), "ceil(%d/%d)", tt.a, tt.b)
	}
}

func TestCeilDivPow2(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{0, 3, 0},
		{13, 1, 7},
		{16, 2, 4},
		{17, 2, 5},
		{-1, 1, 0},
		{-3, 1, -1},
		{5, 0, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CeilDivPow2(tt.a, tt.b), "ceil(%d/2^%d)", tt.a, tt.b)
	}
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 3, floorDiv(7, 2))
	assert.Equal(t, -4, floorDiv(-7, 2))
	assert.Equal(t, -4, floorDiv(7, -2))
	assert.Equal(t, -2, floorDiv(-8, 4))
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, runtime.GOMAXPROCS(0), opts.Workers)
	assert.Equal(t, DefaultMaxCodedBytes, opts.MaxCodedBytes)
	assert.Equal(t, DefaultMaxPasses, opts.MaxPasses)
	assert.Len(t, opts.t1Options(), 2)
	assert.Empty(t, (&Options{}).t1Options())
}

func TestOptions_Workers(t *testing.T) {
	assert.Equal(t, 4, (&Options{Workers: 4}).workers(100))
	assert.Equal(t, 2, (&Options{Workers: 4}).workers(2))
	assert.Equal(t, 1, (&Options{Workers: 4}).workers(0))
	assert.Equal(t, min(runtime.GOMAXPROCS(0), 1000), (&Options{}).workers(1000))
}

func TestProgressionOrder_String(t *testing.T) {
	assert.Equal(t, "LRCP", ProgressionLRCP.String())
	assert.Equal(t, "RLCP", ProgressionRLCP.String())
	assert.Equal(t, "RPCL", ProgressionRPCL.String())
	assert.Equal(t, "PCRL", ProgressionPCRL.String())
	assert.Equal(t, "CPRL", ProgressionCPRL.String())
	assert.Equal(t, "Unknown", ProgressionOrder(99).String())
}

func TestSubband(t *testing.T) {
	tests := []struct {
		band   Subband
		name   string
		gain   int
		xo, yo int
	}{
		{SubbandLL, "LL", 0, 0, 0},
		{SubbandHL, "HL", 1, 1, 0},
		{SubbandLH, "LH", 1, 0, 1},
		{SubbandHH, "HH", 2, 1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.band.String())
		assert.Equal(t, tt.gain, tt.band.Gain())
		xo, yo := tt.band.offsets()
		assert.Equal(t, [2]int{tt.xo, tt.yo}, [2]int{xo, yo}, "%v", tt.band)
	}
	assert.Equal(t, "Unknown", Subband(9).String())
}

func TestCodingStyle(t *testing.T) {
	cs := DefaultCodingStyle(5)
	require.NoError(t, cs.Validate())
	assert.Equal(t, 6, cs.NumResLevels())
	assert.Equal(t, 64, cs.CodeBlockWidth())
	assert.Equal(t, 64, cs.CodeBlockHeight())

	ppx, ppy := cs.PrecinctExp(3)
	assert.Equal(t, [2]int{MaxPrecinctExp, MaxPrecinctExp}, [2]int{ppx, ppy})

	cs.Scod = CodingStylePrecinctsUser
	cs.PrecinctSizes = []byte{0x00, 0x11, 0x22, 0x53, 0x44, 0x55}
	require.NoError(t, cs.Validate())
	ppx, ppy = cs.PrecinctExp(3)
	assert.Equal(t, [2]int{3, 5}, [2]int{ppx, ppy})

	cs.CodeBlockStyle = CodeBlockTermOnPass
	err := cs.Validate()
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestQuantStyle(t *testing.T) {
	qs := ReversibleQuantStyle(2, 12, 1)
	require.NoError(t, qs.Validate(2))
	assert.Equal(t, QuantizationNone, qs.Style)
	assert.Equal(t, []uint8{12, 13, 13, 14, 13, 13, 14}, qs.Exponents)
	assert.ErrorIs(t, qs.Validate(3), ErrConfiguration)

	eps, mant := qs.stepSize(3, 2, 2)
	assert.Equal(t, 14, eps)
	assert.Zero(t, mant)

	derived := &QuantStyle{Style: QuantizationScalarDerived, GuardBits: 2, Exponents: []uint8{9}, Mantissas: []uint16{100}}
	require.NoError(t, derived.Validate(4))
	eps, mant = derived.stepSize(7, 2, 4)
	assert.Equal(t, 7, eps)
	assert.Equal(t, 100, mant)

	expounded := &QuantStyle{Style: QuantizationScalarExpounded, GuardBits: 2, Exponents: []uint8{8, 9, 9, 10}, Mantissas: []uint16{1, 2, 3, 4}}
	require.NoError(t, expounded.Validate(1))
	eps, mant = expounded.stepSize(2, 1, 1)
	assert.Equal(t, 9, eps)
	assert.Equal(t, 3, mant)
	assert.ErrorIs(t, expounded.Validate(2), ErrConfiguration)

	assert.ErrorIs(t, (&QuantStyle{Style: 7}).Validate(0), ErrConfiguration)
	assert.ErrorIs(t, (&QuantStyle{GuardBits: 8, Exponents: []uint8{8}}).Validate(0), ErrConfiguration)
	assert.Equal(t, "scalar-expounded", QuantizationScalarExpounded.String())
}
