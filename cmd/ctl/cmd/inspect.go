package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jpfielding/j2kcore/pkg/compress/jpeg2k"
	"github.com/jpfielding/j2kcore/pkg/compress/jpeg2k/archive"
	"github.com/spf13/cobra"
)

// NewInspectCmd reads back an archive written by roundtrip
func NewInspectCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Print an archive header and optionally decode it",
		Long:  "Reads a code-block archive. With --decode the layout flags must describe the tile the archive was written for.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open file: %v", err)
			}
			defer f.Close()

			decode, _ := cmd.Flags().GetBool("decode")
			if !decode {
				hdr, err := archive.ReadHeader(f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "geometry %s\ncodeblocks %d\nchecksum %s\n", hdr.GeometryID, hdr.NumCodeblocks, hdr.Checksum)
				return nil
			}

			l, err := layoutFromFlags(cmd)
			if err != nil {
				return err
			}
			comp, err := l.build()
			if err != nil {
				return err
			}
			hdr, err := archive.Read(f, comp)
			if err != nil {
				return err
			}
			samples, err := jpeg2k.NewTileDecoder(nil).DecodeTile(ctx, comp)
			if err != nil {
				return err
			}
			lo, hi := samples[0], samples[0]
			for _, v := range samples {
				lo, hi = min(lo, v), max(hi, v)
			}
			slog.DebugContext(ctx, "archive decoded", slog.String("geometry", hdr.GeometryID))
			fmt.Fprintf(cmd.OutOrStdout(), "geometry %s\ncodeblocks %d\nsamples %d in [%d, %d]\n", hdr.GeometryID, hdr.NumCodeblocks, len(samples), lo, hi)
			return nil
		},
	}
	addLayoutFlags(cmd)
	cmd.PersistentFlags().Bool("decode", false, "decode the archive into samples")
	return cmd
}
