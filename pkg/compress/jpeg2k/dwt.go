package jpeg2k

import (
	"fmt"
	"image"
)

// DWT implements the 5/3 reversible discrete wavelet transform
// as specified in ITU-T T.800 Annex F.

// Wavelet transforms a component's sample buffer in place. Forward leaves the
// subbands in the Mallat layout the decomposition hierarchy expects.
type Wavelet interface {
	Forward(data []int) error
	Inverse(data []int) error
}

// DWT53 is the multi-level reversible 5/3 transform of a width x height
// buffer whose origin is aligned to 2^Levels.
type DWT53 struct {
	Width, Height int
	Levels        int
	scratch       []int
}

var _ Wavelet = (*DWT53)(nil)

// NewDWT53 returns the transform for component bounds b. An origin that is
// not a multiple of 2^levels would change the low/high split of every level.
func NewDWT53(b image.Rectangle, levels int) (*DWT53, error) {
	if levels < 0 || levels >= MaxResLevels {
		return nil, fmt.Errorf("%w: %d decomposition levels", ErrConfiguration, levels)
	}
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty transform bounds %v", ErrConfiguration, b)
	}
	if mask := 1<<levels - 1; b.Min.X&mask != 0 || b.Min.Y&mask != 0 {
		return nil, fmt.Errorf("%w: %w: origin %v not aligned to %d", ErrConfiguration, ErrUnsupported, b.Min, 1<<levels)
	}
	return &DWT53{
		Width:   b.Dx(),
		Height:  b.Dy(),
		Levels:  levels,
		scratch: make([]int, 2*max(b.Dx(), b.Dy())),
	}, nil
}

func (d *DWT53) check(data []int) error {
	if len(data) < d.Width*d.Height {
		return fmt.Errorf("%w: %d samples for a %dx%d transform", ErrConfiguration, len(data), d.Width, d.Height)
	}
	return nil
}

// Forward performs multi-level 2D DWT decomposition. Each level transforms
// the LL subband of the previous one.
func (d *DWT53) Forward(data []int) error {
	if err := d.check(data); err != nil {
		return err
	}
	w, h := d.Width, d.Height
	for level := 0; level < d.Levels; level++ {
		forwardRegion(data, d.Width, w, h, d.scratch)
		w, h = (w+1)/2, (h+1)/2
	}
	return nil
}

// Inverse performs multi-level 2D inverse DWT reconstruction.
func (d *DWT53) Inverse(data []int) error {
	if err := d.check(data); err != nil {
		return err
	}
	dims := make([][2]int, d.Levels)
	w, h := d.Width, d.Height
	for level := range dims {
		dims[level] = [2]int{w, h}
		w, h = (w+1)/2, (h+1)/2
	}
	for level := d.Levels - 1; level >= 0; level-- {
		inverseRegion(data, d.Width, dims[level][0], dims[level][1], d.scratch)
	}
	return nil
}

// Forward1D performs a 1D forward 5/3 wavelet transform in-place.
// The signal is replaced with low-pass coefficients followed by high-pass
// coefficients. A single sample passes through unchanged.
func Forward1D(signal []int) {
	forward1D(signal, make([]int, len(signal)))
}

// Inverse1D performs a 1D inverse 5/3 wavelet transform in-place.
func Inverse1D(signal []int) {
	inverse1D(signal, make([]int, len(signal)))
}

// forward1D lifts signal using tmp (len >= len(signal)) as scratch:
//
//	d[i] = x[2i+1] - floor((x[2i] + x[2i+2]) / 2)
//	s[i] = x[2i] + floor((d[i-1] + d[i] + 2) / 4)
//
// with whole-sample symmetric extension at both ends.
func forward1D(signal, tmp []int) {
	n := len(signal)
	if n < 2 {
		return
	}
	half := (n + 1) / 2
	low, high := tmp[:half], tmp[half:n]
	for i := range low {
		low[i] = signal[2*i]
	}
	for i := range high {
		high[i] = signal[2*i+1]
	}

	// Predict
	for i := range high {
		left := low[i]
		right := left
		if i+1 < half {
			right = low[i+1]
		}
		high[i] -= (left + right) >> 1
	}

	// Update
	for i := range low {
		left := high[0]
		if i > 0 {
			left = high[i-1]
		}
		right := left
		if i < len(high) {
			right = high[i]
		}
		low[i] += (left + right + 2) >> 2
	}
	copy(signal, tmp[:n])
}

// inverse1D undoes forward1D.
func inverse1D(signal, tmp []int) {
	n := len(signal)
	if n < 2 {
		return
	}
	half := (n + 1) / 2
	copy(tmp, signal)
	low, high := tmp[:half], tmp[half:n]

	for i := range low {
		left := high[0]
		if i > 0 {
			left = high[i-1]
		}
		right := left
		if i < len(high) {
			right = high[i]
		}
		low[i] -= (left + right + 2) >> 2
	}

	for i := range high {
		left := low[i]
		right := left
		if i+1 < half {
			right = low[i+1]
		}
		high[i] += (left + right) >> 1
	}

	for i := range low {
		signal[2*i] = low[i]
	}
	for i := range high {
		signal[2*i+1] = high[i]
	}
}

// forwardRegion transforms the top-left width x height region: rows, then
// columns. A dimension of one sample is left as is, so the subband layout is
// the same for every region shape.
func forwardRegion(data []int, stride, width, height int, scratch []int) {
	line, tmp := scratch[:max(width, height)], scratch[max(width, height):]
	if width >= 2 {
		for y := 0; y < height; y++ {
			row := data[y*stride : y*stride+width]
			forward1D(row, tmp)
		}
	}
	if height >= 2 {
		col := line[:height]
		for x := 0; x < width; x++ {
			for y := range col {
				col[y] = data[y*stride+x]
			}
			forward1D(col, tmp)
			for y, v := range col {
				data[y*stride+x] = v
			}
		}
	}
}

// inverseRegion undoes forwardRegion: columns, then rows.
func inverseRegion(data []int, stride, width, height int, scratch []int) {
	line, tmp := scratch[:max(width, height)], scratch[max(width, height):]
	if height >= 2 {
		col := line[:height]
		for x := 0; x < width; x++ {
			for y := range col {
				col[y] = data[y*stride+x]
			}
			inverse1D(col, tmp)
			for y, v := range col {
				data[y*stride+x] = v
			}
		}
	}
	if width >= 2 {
		for y := 0; y < height; y++ {
			row := data[y*stride : y*stride+width]
			inverse1D(row, tmp)
		}
	}
}
