package cmd

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/jpfielding/j2kcore/pkg/compress/jpeg2k"
	"github.com/jpfielding/j2kcore/pkg/compress/jpeg2k/archive"
	"github.com/jpfielding/j2kcore/pkg/logging"
	"github.com/spf13/cobra"
)

// NewRoundTripCmd encodes a tile through Tier-1 and decodes it back
func NewRoundTripCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roundtrip",
		Short: "Tier-1 encode and decode a tile and verify it is lossless",
		Long:  "Transforms a synthetic or PGM tile with the 5/3 wavelet, codes every code-block in parallel, decodes it back and compares the samples.",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := layoutFromFlags(cmd)
			if err != nil {
				return err
			}
			pgmPath, _ := cmd.Flags().GetString("pgm")
			pattern, _ := cmd.Flags().GetString("pattern")
			workers, _ := cmd.Flags().GetInt("workers")
			archivePath, _ := cmd.Flags().GetString("archive")

			var samples []int
			if pgmPath != "" {
				f, err := os.Open(pgmPath)
				if err != nil {
					return fmt.Errorf("failed to open file: %v", err)
				}
				img, err := readPGM(f)
				f.Close()
				if err != nil {
					return err
				}
				l.Bounds = image.Rect(l.Bounds.Min.X, l.Bounds.Min.Y, l.Bounds.Min.X+img.Width, l.Bounds.Min.Y+img.Height)
				l.BitDepth = img.BitDepth()
				l.Quant = jpeg2k.ReversibleQuantStyle(l.Coding.DecompLevels, l.BitDepth, l.Quant.GuardBits)
				l.Dx, l.Dy = 1, 1
				samples = levelShift(img.Samples, l.BitDepth)
			}

			comp, err := l.build()
			if err != nil {
				return err
			}
			if samples == nil {
				samples = synthesize(pattern, comp.Bounds, l.BitDepth)
			}
			ctx := logging.AppendCtx(ctx, slog.Group("tile",
				slog.Any("bounds", l.Bounds),
				slog.Int("levels", l.Coding.DecompLevels)))

			opts := jpeg2k.DefaultOptions()
			if workers > 0 {
				opts.Workers = workers
			}
			start := time.Now()
			if _, err := jpeg2k.NewTileEncoder(comp, opts).EncodeTile(ctx, samples); err != nil {
				return err
			}
			encoded := time.Since(start)

			st := summarize(comp)
			if archivePath != "" {
				f, err := os.Create(archivePath)
				if err != nil {
					return err
				}
				if err := archive.Write(f, comp); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				slog.InfoContext(ctx, "archive written", slog.String("path", archivePath))
			}

			start = time.Now()
			got, err := jpeg2k.NewTileDecoder(opts).DecodeTile(ctx, comp)
			if err != nil {
				return err
			}
			decoded := time.Since(start)

			mismatches := 0
			for i := range samples {
				if samples[i] != got[i] {
					mismatches++
				}
			}
			slog.InfoContext(ctx, "roundtrip",
				slog.Int("codeblocks", st.codeblocks),
				slog.Int("zero", st.zero),
				slog.Int("passes", st.passes),
				slog.Int("bytes", st.bytes),
				slog.Float64("bpp", float64(8*st.bytes)/float64(len(samples))),
				slog.Duration("encode", encoded),
				slog.Duration("decode", decoded),
				slog.Int("mismatches", mismatches))
			fmt.Fprintf(cmd.OutOrStdout(), "%d samples, %d coded bytes (%.3f bpp), %d mismatches\n",
				len(samples), st.bytes, float64(8*st.bytes)/float64(len(samples)), mismatches)
			if mismatches > 0 {
				return fmt.Errorf("roundtrip is not lossless: %d mismatches", mismatches)
			}
			return nil
		},
	}
	addLayoutFlags(cmd)
	pf := cmd.PersistentFlags()
	pf.String("pgm", "", "binary PGM (P5) input instead of a synthetic tile")
	pf.String("pattern", "noise", "synthetic tile pattern (noise|gradient|zero)")
	pf.IntP("workers", "w", 0, "code-block workers (0 = GOMAXPROCS)")
	pf.StringP("archive", "a", "", "write the coded code-blocks to this archive")
	return cmd
}

// levelShift centres unsigned samples on zero
func levelShift(samples []int, depth int) []int {
	out := make([]int, len(samples))
	half := 1 << (depth - 1)
	for i, v := range samples {
		out[i] = v - half
	}
	return out
}

func synthesize(pattern string, b image.Rectangle, depth int) []int {
	w, h := b.Dx(), b.Dy()
	out := make([]int, w*h)
	half := 1 << (depth - 1)
	rng := rand.New(rand.NewSource(1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch pattern {
			case "gradient":
				out[y*w+x] = (x+y)*(2*half-1)/max(w+h-2, 1) - half
			case "zero":
			default:
				out[y*w+x] = rng.Intn(2*half) - half
			}
		}
	}
	return out
}

type codingStats struct {
	codeblocks int
	zero       int
	passes     int
	bytes      int
}

func summarize(comp *jpeg2k.Component) codingStats {
	var st codingStats
	for _, lvl := range comp.Levels {
		for _, b := range lvl.Bands {
			for i := range b.Codeblocks {
				cb := &b.Codeblocks[i]
				st.codeblocks++
				if cb.Zero {
					st.zero++
				}
				st.passes += cb.NumPasses
				st.bytes += len(cb.Data)
			}
		}
	}
	return st
}
