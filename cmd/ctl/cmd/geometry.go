package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/jpfielding/j2kcore/pkg/compress/jpeg2k"
	"github.com/spf13/cobra"
)

// layout is the tile and coding configuration shared by the commands
type layout struct {
	Bounds   image.Rectangle
	Coding   *jpeg2k.CodingStyle
	Quant    *jpeg2k.QuantStyle
	BitDepth int
	Dx, Dy   int
}

func addLayoutFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.Int("x0", 0, "tile origin x on the reference grid; the component origin must be a multiple of 2^levels")
	pf.Int("y0", 0, "tile origin y on the reference grid; the component origin must be a multiple of 2^levels")
	pf.IntP("width", "W", 256, "tile width")
	pf.IntP("height", "H", 256, "tile height")
	pf.IntP("levels", "l", 5, "decomposition levels")
	pf.String("cblk", "64x64", "nominal code-block size (powers of two 4..64)")
	pf.String("precincts", "", "per resolution precinct exponents, lowest first (e.g. 15x15,7x7,8x8)")
	pf.String("modes", "", "code-block modes: reset,causal,segsym")
	pf.IntP("depth", "d", 8, "sample bit depth")
	pf.Int("guard", 2, "guard bits")
	pf.Int("dx", 1, "horizontal subsampling")
	pf.Int("dy", 1, "vertical subsampling")
}

func parsePair(s string) (int, int, error) {
	a, b, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("expected AxB, got %q", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func log2Exact(v int) (int, bool) {
	for e := 0; e < 31; e++ {
		if 1<<e == v {
			return e, true
		}
	}
	return 0, false
}

var modeFlags = map[string]byte{
	"reset":   jpeg2k.CodeBlockResetContext,
	"causal":  jpeg2k.CodeBlockVerticalCausal,
	"segsym":  jpeg2k.CodeBlockSegmentationSymbols,
	"bypass":  jpeg2k.CodeBlockSelectiveBypass,
	"termall": jpeg2k.CodeBlockTermOnPass,
	"pterm":   jpeg2k.CodeBlockPredictableTermination,
}

func layoutFromFlags(cmd *cobra.Command) (*layout, error) {
	f := cmd.Flags()
	x0, _ := f.GetInt("x0")
	y0, _ := f.GetInt("y0")
	w, _ := f.GetInt("width")
	h, _ := f.GetInt("height")
	levels, _ := f.GetInt("levels")
	cblk, _ := f.GetString("cblk")
	precincts, _ := f.GetString("precincts")
	modes, _ := f.GetString("modes")
	depth, _ := f.GetInt("depth")
	guard, _ := f.GetInt("guard")
	dx, _ := f.GetInt("dx")
	dy, _ := f.GetInt("dy")

	cs := jpeg2k.DefaultCodingStyle(levels)
	cw, ch, err := parsePair(cblk)
	if err != nil {
		return nil, fmt.Errorf("--cblk: %w", err)
	}
	xcb, okx := log2Exact(cw)
	ycb, oky := log2Exact(ch)
	if !okx || !oky {
		return nil, fmt.Errorf("--cblk: %s is not a power of two size", cblk)
	}
	cs.CodeBlockWidthExp, cs.CodeBlockHeightExp = xcb-2, ycb-2

	if precincts != "" {
		cs.Scod |= jpeg2k.CodingStylePrecinctsUser
		for _, p := range strings.Split(precincts, ",") {
			ppx, ppy, err := parsePair(p)
			if err != nil {
				return nil, fmt.Errorf("--precincts: %w", err)
			}
			if ppx < 0 || ppx > jpeg2k.MaxPrecinctExp || ppy < 0 || ppy > jpeg2k.MaxPrecinctExp {
				return nil, fmt.Errorf("--precincts: exponent out of range in %q", p)
			}
			cs.PrecinctSizes = append(cs.PrecinctSizes, byte(ppx|ppy<<4))
		}
	}
	if modes != "" {
		for _, m := range strings.Split(modes, ",") {
			bit, ok := modeFlags[strings.TrimSpace(strings.ToLower(m))]
			if !ok {
				return nil, fmt.Errorf("--modes: unknown mode %q", m)
			}
			cs.CodeBlockStyle |= bit
		}
	}

	return &layout{
		Bounds:   image.Rect(x0, y0, x0+w, y0+h),
		Coding:   cs,
		Quant:    jpeg2k.ReversibleQuantStyle(levels, depth, guard),
		BitDepth: depth,
		Dx:       dx,
		Dy:       dy,
	}, nil
}

func (l *layout) build() (*jpeg2k.Component, error) {
	return jpeg2k.BuildComponent(l.Bounds, l.Coding, l.Quant, l.BitDepth, l.Dx, l.Dy)
}

// NewGeometryCmd prints the decomposition hierarchy of a tile
func NewGeometryCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geometry",
		Short: "Print the resolution/band/precinct/code-block layout of a tile",
		Long:  "Builds the decomposition hierarchy for the given tile and coding style and prints it with its geometry id.",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := layoutFromFlags(cmd)
			if err != nil {
				return err
			}
			comp, err := l.build()
			if err != nil {
				return err
			}
			id, err := comp.GeometryID()
			if err != nil {
				return err
			}
			slog.DebugContext(ctx, "geometry built", slog.String("id", id), slog.Int("codeblocks", comp.NumCodeblocks()))

			switch format, _ := cmd.Flags().GetString("format"); format {
			case "json":
				j, err := json.MarshalIndent(struct {
					ID       string          `json:"id"`
					Geometry jpeg2k.Geometry `json:"geometry"`
				}{id, comp.Geometry()}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(j))
			default:
				printGeometry(cmd.OutOrStdout(), id, comp)
			}
			return nil
		},
	}
	addLayoutFlags(cmd)
	cmd.PersistentFlags().StringP("format", "f", "text", "output format (text|json)")
	return cmd
}

func printGeometry(out io.Writer, id string, comp *jpeg2k.Component) {
	fmt.Fprintf(out, "component %v  codeblocks %d  id %s\n", comp.Bounds, comp.NumCodeblocks(), id)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "res\tband\tbounds\toffset\tcblk\tgrid\tprecincts\tMb")
	for _, lvl := range comp.Levels {
		for _, b := range lvl.Bands {
			fmt.Fprintf(tw, "%d\t%v\t%v\t%v\t%dx%d\t%dx%d\t%dx%d\t%d\n",
				lvl.Level, b.Orientation, b.Bounds, b.Offset,
				b.CodeblockWidth, b.CodeblockHeight, b.NumCblkX, b.NumCblkY,
				lvl.NumPrecX, lvl.NumPrecY, b.NumBitPlanes)
		}
	}
	tw.Flush()
}
