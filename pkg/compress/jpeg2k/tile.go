package jpeg2k

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// codeblockJob addresses one code-block of a component.
type codeblockJob struct {
	band *Band
	cb   *Codeblock
}

func collectJobs(comp *Component) []codeblockJob {
	jobs := make([]codeblockJob, 0, comp.NumCodeblocks())
	for _, lvl := range comp.Levels {
		for _, b := range lvl.Bands {
			for i := range b.Codeblocks {
				jobs = append(jobs, codeblockJob{band: b, cb: &b.Codeblocks[i]})
			}
		}
	}
	return jobs
}

// runJobs hands jobs to workers goroutines, each running the function
// newWorker returns for it. The first error or a cancelled ctx stops the
// remaining jobs.
func runJobs(ctx context.Context, workers int, jobs []codeblockJob, newWorker func() func(codeblockJob) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobChan := make(chan codeblockJob)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			work := newWorker()
			for job := range jobChan {
				if err := work(job); err != nil {
					fail(err)
				}
			}
		}()
	}

feed:
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			break feed
		case jobChan <- job:
		}
	}
	close(jobChan)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// TileEncoder transforms and Tier-1 codes the tiles of one component.
type TileEncoder struct {
	comp *Component
	opts *Options
}

// NewTileEncoder creates a tile encoder for comp. A nil opts uses
// DefaultOptions.
func NewTileEncoder(comp *Component, opts *Options) *TileEncoder {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &TileEncoder{comp: comp, opts: opts}
}

// EncodeTile loads data (Bounds.Dx() x Bounds.Dy() samples) into the
// component, applies the forward transform, codes every code-block and
// fills the precinct tag-trees. On error the component's coded state is
// undefined until the next Reinit.
func (te *TileEncoder) EncodeTile(ctx context.Context, data []int) (*Component, error) {
	comp := te.comp
	if comp == nil || comp.Levels == nil {
		return nil, fmt.Errorf("%w: component not built", ErrConfiguration)
	}
	if len(data) != len(comp.Data) {
		return nil, fmt.Errorf("%w: %d samples for a %v component", ErrConfiguration, len(data), comp.Bounds.Size())
	}
	start := time.Now()

	copy(comp.Data, data)
	if err := comp.Wavelet.Forward(comp.Data); err != nil {
		return nil, fmt.Errorf("forward transform: %w", err)
	}

	jobs := collectJobs(comp)
	style := comp.cs.CodeBlockStyle
	t1opts := te.opts.t1Options()
	err := runJobs(ctx, te.opts.workers(len(jobs)), jobs, func() func(codeblockJob) error {
		enc := NewCodeBlockEncoder(t1opts...)
		var quant []int
		return func(job codeblockJob) error {
			coeffs, stride := job.band.Coefficients(job.cb)
			if job.band.StepSize != 1<<13 {
				quant, stride = quantize(quant, coeffs, stride, job.cb, job.band.StepSize)
				coeffs = quant
			}
			if err := enc.Encode(job.cb, coeffs, stride, job.band.Orientation, style); err != nil {
				return fmt.Errorf("codeblock %v of %v band: %w", job.cb.Bounds, job.band.Orientation, err)
			}
			if job.cb.NonZeroBits > job.band.NumBitPlanes {
				return fmt.Errorf("%w: %d bit-planes in a %d bit-plane %v band", ErrCapacityExceeded, job.cb.NonZeroBits, job.band.NumBitPlanes, job.band.Orientation)
			}
			job.cb.ZeroBitPlanes = job.band.NumBitPlanes - job.cb.NonZeroBits
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, lvl := range comp.Levels {
		for _, b := range lvl.Bands {
			if err := loadTagTrees(b); err != nil {
				return nil, err
			}
			for i := range b.Codeblocks {
				total += len(b.Codeblocks[i].Data)
			}
		}
	}
	slog.DebugContext(ctx, "tile encoded",
		slog.Any("bounds", comp.TileBounds),
		slog.Int("codeblocks", len(jobs)),
		slog.Int("bytes", total),
		slog.Duration("elapsed", time.Since(start)))
	return comp, nil
}

// loadTagTrees sets the leaves of each precinct's trees: the zero bit-planes
// of every code-block and the first layer (0) of the non-empty ones.
func loadTagTrees(b *Band) error {
	for i := range b.Precincts {
		p := &b.Precincts[i]
		if p.Inclusion == nil {
			continue
		}
		p.Inclusion.Reset()
		p.ZeroBits.Reset()
		for y := p.Yi0; y < p.Yi1; y++ {
			for x := p.Xi0; x < p.Xi1; x++ {
				cb := b.CodeblockAt(x, y)
				layer := 0
				if cb.Zero {
					layer = TagTreeSentinel
				}
				if err := p.Inclusion.SetValue(x-p.Xi0, y-p.Yi0, layer); err != nil {
					return err
				}
				if err := p.ZeroBits.SetValue(x-p.Xi0, y-p.Yi0, cb.ZeroBitPlanes); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// quantize copies the code-block window of coeffs into buf, dividing
// magnitudes by step (fixed point x 2^13) with truncation towards zero.
func quantize(buf, coeffs []int, stride int, cb *Codeblock, step int) ([]int, int) {
	w, h := cb.Bounds.Dx(), cb.Bounds.Dy()
	buf = append(buf[:0], make([]int, w*h)...)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := coeffs[y*stride+x]
			q := (abs(v) << 13) / step
			if v < 0 {
				q = -q
			}
			buf[y*w+x] = q
		}
	}
	return buf, w
}

// dequantize scales the code-block window back by step in place.
func dequantize(coeffs []int, stride int, cb *Codeblock, step int) {
	w, h := cb.Bounds.Dx(), cb.Bounds.Dy()
	for y := 0; y < h; y++ {
		row := coeffs[y*stride : y*stride+w]
		for x, q := range row {
			v := (abs(q) * step) >> 13
			if q < 0 {
				v = -v
			}
			row[x] = v
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// TileDecoder reconstructs component samples from coded code-blocks.
type TileDecoder struct {
	opts *Options
}

// NewTileDecoder creates a tile decoder. A nil opts uses DefaultOptions.
func NewTileDecoder(opts *Options) *TileDecoder {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &TileDecoder{opts: opts}
}

// DecodeTile decodes every code-block of comp into its coefficient buffer,
// applies the inverse transform and returns a copy of the samples.
// Code-blocks carrying only ZeroBitPlanes take their bit-plane count from the
// band's Mb.
func (td *TileDecoder) DecodeTile(ctx context.Context, comp *Component) ([]int, error) {
	if comp == nil || comp.Levels == nil {
		return nil, fmt.Errorf("%w: component not built", ErrConfiguration)
	}
	start := time.Now()

	jobs := collectJobs(comp)
	style := comp.cs.CodeBlockStyle
	t1opts := td.opts.t1Options()
	err := runJobs(ctx, td.opts.workers(len(jobs)), jobs, func() func(codeblockJob) error {
		dec := NewCodeBlockDecoder(t1opts...)
		return func(job codeblockJob) error {
			cb := job.cb
			if cb.NonZeroBits == 0 && !cb.Zero && len(cb.Data) > 0 {
				cb.NonZeroBits = job.band.NumBitPlanes - cb.ZeroBitPlanes
			}
			coeffs, stride := job.band.Coefficients(cb)
			if err := dec.Decode(cb, coeffs, stride, job.band.Orientation, style); err != nil {
				return fmt.Errorf("codeblock %v of %v band: %w", cb.Bounds, job.band.Orientation, err)
			}
			if job.band.StepSize != 1<<13 {
				dequantize(coeffs, stride, cb, job.band.StepSize)
			}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	if err := comp.Wavelet.Inverse(comp.Data); err != nil {
		return nil, fmt.Errorf("inverse transform: %w", err)
	}
	out := make([]int, len(comp.Data))
	copy(out, comp.Data)
	slog.DebugContext(ctx, "tile decoded",
		slog.Any("bounds", comp.TileBounds),
		slog.Int("codeblocks", len(jobs)),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}
