package jpeg2k

import (
	"fmt"
	"image"

	"github.com/jpfielding/j2kcore/pkg/util"
)

// Component / resolution level / subband / precinct / code-block hierarchy
// (ITU-T T.800 B.5 - B.7)

// Precinct is the part of one band covered by a precinct of its resolution
// level: a range of code-block indices and the two tag-trees coding them.
type Precinct struct {
	Xi0, Yi0 int // First code-block index (band grid)
	Xi1, Yi1 int // One past the last code-block index
	// Nil when the precinct holds no code-block of the band
	Inclusion *TagTree
	ZeroBits  *TagTree
}

// NumCodeblocks returns the number of code-blocks in the precinct
func (p *Precinct) NumCodeblocks() int {
	return (p.Xi1 - p.Xi0) * (p.Yi1 - p.Yi0)
}

// Band is a subband of a resolution level.
type Band struct {
	Orientation     Subband
	Bounds          image.Rectangle // Band coordinates
	CodeblockWidth  int             // Nominal code-block width
	CodeblockHeight int
	NumCblkX        int
	NumCblkY        int
	Codeblocks      []Codeblock // Row-major NumCblkX x NumCblkY
	Precincts       []Precinct  // Row-major in the level's precinct grid
	StepSize        int         // Quantisation step, fixed point x 2^13
	NumBitPlanes    int         // Mb
	Offset          image.Point // Position of the band in Component.Data

	data   []int
	stride int
}

// CodeblockAt returns code-block (i, j) of the band grid.
func (b *Band) CodeblockAt(i, j int) *Codeblock {
	if i < 0 || j < 0 || i >= b.NumCblkX || j >= b.NumCblkY {
		return nil
	}
	return &b.Codeblocks[j*b.NumCblkX+i]
}

// Coefficients returns the window of the component buffer holding cb and its
// row stride. cb must belong to b.
func (b *Band) Coefficients(cb *Codeblock) ([]int, int) {
	x := b.Offset.X + cb.Bounds.Min.X - b.Bounds.Min.X
	y := b.Offset.Y + cb.Bounds.Min.Y - b.Bounds.Min.Y
	return b.data[y*b.stride+x:], b.stride
}

// ResolutionLevel groups the bands reconstructing resolution r.
type ResolutionLevel struct {
	Level    int
	Bounds   image.Rectangle
	PPx, PPy int // Precinct size exponents
	NumPrecX int
	NumPrecY int
	Bands    []*Band // LL at level 0, HL, LH, HH above
}

// ComponentOption configures BuildComponent.
type ComponentOption func(*Component)

// WithWavelet overrides the transform the component's coefficients come from.
func WithWavelet(w Wavelet) ComponentOption {
	return func(c *Component) { c.Wavelet = w }
}

// Component is one image component of a tile with its coefficient buffer.
type Component struct {
	Bounds     image.Rectangle // Component grid
	TileBounds image.Rectangle // Reference grid
	Dx, Dy     int             // Subsampling
	BitDepth   int
	Levels     []*ResolutionLevel
	Wavelet    Wavelet
	Data       []int // Bounds.Dx() x Bounds.Dy(), subbands in Mallat layout

	cs         *CodingStyle
	qs         *QuantStyle
	ownWavelet bool
}

// BuildComponent builds the hierarchy of the component sampled by (dx, dy)
// from tile rectangle bounds.
func BuildComponent(bounds image.Rectangle, cs *CodingStyle, qs *QuantStyle, bitDepth, dx, dy int, opts ...ComponentOption) (*Component, error) {
	if cs == nil || qs == nil {
		return nil, fmt.Errorf("%w: missing coding or quantization style", ErrConfiguration)
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if err := qs.Validate(cs.DecompLevels); err != nil {
		return nil, err
	}
	if bitDepth < 1 || bitDepth > MaxBitDepth {
		return nil, fmt.Errorf("%w: bit depth %d", ErrConfiguration, bitDepth)
	}
	if dx < 1 || dy < 1 || dx > 255 || dy > 255 {
		return nil, fmt.Errorf("%w: subsampling %dx%d", ErrConfiguration, dx, dy)
	}

	c := &Component{Dx: dx, Dy: dy, BitDepth: bitDepth, cs: cs, qs: qs}
	for _, opt := range opts {
		opt(c)
	}
	if c.Wavelet == nil && cs.Transform != TransformReversible53 {
		return nil, fmt.Errorf("%w: %w: irreversible transform without a wavelet", ErrConfiguration, ErrUnsupported)
	}
	c.ownWavelet = c.Wavelet == nil
	if err := c.build(bounds); err != nil {
		return nil, err
	}
	return c, nil
}

// componentBounds maps a tile rectangle onto the component grid.
func componentBounds(tile image.Rectangle, dx, dy int) image.Rectangle {
	return image.Rect(CeilDiv(tile.Min.X, dx), CeilDiv(tile.Min.Y, dy), CeilDiv(tile.Max.X, dx), CeilDiv(tile.Max.Y, dy))
}

// build computes the hierarchy for tile bounds and installs it only once
// every level is valid.
func (c *Component) build(tile image.Rectangle) error {
	if tile.Min.X < 0 || tile.Min.Y < 0 {
		return fmt.Errorf("%w: negative tile origin %v", ErrConfiguration, tile.Min)
	}
	cb := componentBounds(tile, c.Dx, c.Dy)
	if cb.Empty() {
		return fmt.Errorf("%w: empty component %v", ErrConfiguration, cb)
	}

	nl := c.cs.DecompLevels
	w, h := cb.Dx(), cb.Dy()
	data := make([]int, w*h)
	levels := make([]*ResolutionLevel, 0, nl+1)

	var prev image.Rectangle
	for r := 0; r <= nl; r++ {
		rb := image.Rect(
			CeilDivPow2(cb.Min.X, nl-r), CeilDivPow2(cb.Min.Y, nl-r),
			CeilDivPow2(cb.Max.X, nl-r), CeilDivPow2(cb.Max.Y, nl-r),
		)
		ppx, ppy := c.cs.PrecinctExp(r)
		lvl := &ResolutionLevel{Level: r, Bounds: rb, PPx: ppx, PPy: ppy}
		if !rb.Empty() {
			lvl.NumPrecX = CeilDivPow2(rb.Max.X, ppx) - rb.Min.X>>ppx
			lvl.NumPrecY = CeilDivPow2(rb.Max.Y, ppy) - rb.Min.Y>>ppy
		}

		orients := []Subband{SubbandHL, SubbandLH, SubbandHH}
		nb := nl - r + 1
		if r == 0 {
			orients = []Subband{SubbandLL}
			nb = nl
		}
		for _, o := range orients {
			band, err := c.buildBand(lvl, o, nb, cb, prev, data, w)
			if err != nil {
				return err
			}
			lvl.Bands = append(lvl.Bands, band)
		}
		levels = append(levels, lvl)
		prev = rb
	}

	if c.ownWavelet {
		dwt, err := NewDWT53(cb, nl)
		if err != nil {
			return err
		}
		c.Wavelet = dwt
	}
	c.TileBounds = tile
	c.Bounds = cb
	c.Levels = levels
	c.Data = data
	return nil
}

func (c *Component) buildBand(lvl *ResolutionLevel, o Subband, nb int, comp, prev image.Rectangle, data []int, stride int) (*Band, error) {
	xo, yo := o.offsets()
	var bb image.Rectangle
	if nb == 0 {
		bb = comp
	} else {
		sx, sy := xo<<(nb-1), yo<<(nb-1)
		bb = image.Rect(
			CeilDivPow2(comp.Min.X-sx, nb), CeilDivPow2(comp.Min.Y-sy, nb),
			CeilDivPow2(comp.Max.X-sx, nb), CeilDivPow2(comp.Max.Y-sy, nb),
		)
	}
	if bb.Empty() {
		return nil, fmt.Errorf("%w: empty %v band at resolution %d of %v", ErrConfiguration, o, lvl.Level, comp)
	}

	// Precinct exponents seen from the band
	bppx, bppy := lvl.PPx, lvl.PPy
	if lvl.Level > 0 {
		bppx, bppy = bppx-1, bppy-1
	}
	xcb := min(c.cs.CodeBlockWidthExp+2, bppx)
	ycb := min(c.cs.CodeBlockHeightExp+2, bppy)

	b := &Band{
		Orientation:     o,
		Bounds:          bb,
		CodeblockWidth:  1 << xcb,
		CodeblockHeight: 1 << ycb,
		NumCblkX:        CeilDivPow2(bb.Max.X, xcb) - bb.Min.X>>xcb,
		NumCblkY:        CeilDivPow2(bb.Max.Y, ycb) - bb.Min.Y>>ycb,
		Offset:          image.Pt(xo*prev.Dx(), yo*prev.Dy()),
		data:            data,
		stride:          stride,
	}

	b.Codeblocks = make([]Codeblock, b.NumCblkX*b.NumCblkY)
	for j := 0; j < b.NumCblkY; j++ {
		for i := 0; i < b.NumCblkX; i++ {
			x0 := (bb.Min.X>>xcb + i) << xcb
			y0 := (bb.Min.Y>>ycb + j) << ycb
			cblk := &b.Codeblocks[j*b.NumCblkX+i]
			cblk.Bounds = image.Rect(x0, y0, x0+b.CodeblockWidth, y0+b.CodeblockHeight).Intersect(bb)
			cblk.reset()
		}
	}

	b.Precincts = make([]Precinct, lvl.NumPrecX*lvl.NumPrecY)
	for py := 0; py < lvl.NumPrecY; py++ {
		for px := 0; px < lvl.NumPrecX; px++ {
			kx := lvl.Bounds.Min.X>>lvl.PPx + px
			ky := lvl.Bounds.Min.Y>>lvl.PPy + py
			cell := image.Rect(kx<<bppx, ky<<bppy, (kx+1)<<bppx, (ky+1)<<bppy).Intersect(bb)
			prec := &b.Precincts[py*lvl.NumPrecX+px]
			if cell.Empty() {
				continue
			}
			prec.Xi0 = cell.Min.X>>xcb - bb.Min.X>>xcb
			prec.Yi0 = cell.Min.Y>>ycb - bb.Min.Y>>ycb
			prec.Xi1 = CeilDivPow2(cell.Max.X, xcb) - bb.Min.X>>xcb
			prec.Yi1 = CeilDivPow2(cell.Max.Y, ycb) - bb.Min.Y>>ycb
			var err error
			if prec.Inclusion, err = NewTagTree(prec.Xi1-prec.Xi0, prec.Yi1-prec.Yi0); err != nil {
				return nil, err
			}
			if prec.ZeroBits, err = NewTagTree(prec.Xi1-prec.Xi0, prec.Yi1-prec.Yi0); err != nil {
				return nil, err
			}
		}
	}

	gband := 0
	if lvl.Level > 0 {
		gband = 3*(lvl.Level-1) + int(o)
	}
	eps, mant := c.qs.stepSize(gband, nb, c.cs.DecompLevels)
	b.NumBitPlanes = c.qs.GuardBits + eps - 1
	if b.NumBitPlanes < 1 {
		return nil, fmt.Errorf("%w: %v band at resolution %d has %d bit-planes", ErrConfiguration, o, lvl.Level, b.NumBitPlanes)
	}
	if c.qs.Style == QuantizationNone {
		b.StepSize = 1 << 13
	} else {
		// (1 + mant/2^11) * 2^(R_b - eps) in units of 2^-13
		b.StepSize = shl(2048+mant, 2+c.BitDepth+o.Gain()-eps)
	}
	return b, nil
}

func shl(v, n int) int {
	if n < 0 {
		return v >> -n
	}
	return v << n
}

// Reinit prepares the component for another tile. Identical extents reuse
// every allocation and only reset the signalling state, other extents
// rebuild the hierarchy.
func (c *Component) Reinit(tile image.Rectangle) error {
	if c.Levels != nil && componentBounds(tile, c.Dx, c.Dy) == c.Bounds {
		clear(c.Data)
		for _, lvl := range c.Levels {
			for _, b := range lvl.Bands {
				for i := range b.Codeblocks {
					b.Codeblocks[i].reset()
				}
				for i := range b.Precincts {
					if p := &b.Precincts[i]; p.Inclusion != nil {
						p.Inclusion.Reset()
						p.ZeroBits.Reset()
					}
				}
			}
		}
		c.TileBounds = tile
		return nil
	}
	return c.build(tile)
}

// Cleanup releases the hierarchy and the coefficient buffer.
func (c *Component) Cleanup() {
	c.Levels = nil
	c.Data = nil
	if c.ownWavelet {
		c.Wavelet = nil
	}
}

// NumCodeblocks returns the number of code-blocks over all bands
func (c *Component) NumCodeblocks() int {
	n := 0
	for _, lvl := range c.Levels {
		for _, b := range lvl.Bands {
			n += len(b.Codeblocks)
		}
	}
	return n
}

// Geometry summarises the hierarchy: two components with equal geometry
// partition coefficients identically.
type Geometry struct {
	Bounds image.Rectangle
	Levels []LevelGeometry
}

// LevelGeometry summarises a resolution level
type LevelGeometry struct {
	Bounds   image.Rectangle
	PPx, PPy int
	NumPrecX int
	NumPrecY int
	Bands    []BandGeometry
}

// BandGeometry summarises a band
type BandGeometry struct {
	Orientation     Subband
	Bounds          image.Rectangle
	Offset          image.Point
	CodeblockWidth  int
	CodeblockHeight int
	NumCblkX        int
	NumCblkY        int
	NumBitPlanes    int
	StepSize        int
	Precincts       [][4]int // Xi0, Yi0, Xi1, Yi1
}

// Geometry returns the summary of the current hierarchy.
func (c *Component) Geometry() Geometry {
	g := Geometry{Bounds: c.Bounds}
	for _, lvl := range c.Levels {
		lg := LevelGeometry{
			Bounds:   lvl.Bounds,
			PPx:      lvl.PPx,
			PPy:      lvl.PPy,
			NumPrecX: lvl.NumPrecX,
			NumPrecY: lvl.NumPrecY,
		}
		for _, b := range lvl.Bands {
			bg := BandGeometry{
				Orientation:     b.Orientation,
				Bounds:          b.Bounds,
				Offset:          b.Offset,
				CodeblockWidth:  b.CodeblockWidth,
				CodeblockHeight: b.CodeblockHeight,
				NumCblkX:        b.NumCblkX,
				NumCblkY:        b.NumCblkY,
				NumBitPlanes:    b.NumBitPlanes,
				StepSize:        b.StepSize,
			}
			for _, p := range b.Precincts {
				bg.Precincts = append(bg.Precincts, [4]int{p.Xi0, p.Yi0, p.Xi1, p.Yi1})
			}
			lg.Bands = append(lg.Bands, bg)
		}
		g.Levels = append(g.Levels, lg)
	}
	return g
}

// GeometryID fingerprints Geometry.
func (c *Component) GeometryID() (string, error) {
	return util.HashUUID(c.Geometry())
}
