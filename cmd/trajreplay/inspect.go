package main

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"trajreplay/internal/replay"
	"trajreplay/internal/videosink"
)

func inspectCmd() *cobra.Command {
	var pngDir string
	cmd := &cobra.Command{
		Use:   "inspect <frames.zst>",
		Short: "Print a frame stream's header and frame count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := videosink.Open(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", replay.ErrResource, err)
			}
			defer r.Close()

			hdr, ok := r.Header()
			if !ok {
				cmd.Printf("%s: empty stream\n", args[0])
				return nil
			}
			if pngDir != "" {
				if err := os.MkdirAll(pngDir, 0o755); err != nil {
					return err
				}
			}
			n := 0
			for {
				img, err := r.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("frame %d: %w", n, err)
				}
				if pngDir != "" {
					if err := writePNG(filepath.Join(pngDir, fmt.Sprintf("frame_%06d.png", n)), img); err != nil {
						return err
					}
				}
				n++
			}
			cmd.Printf("%s: v%d %dx%d fps=%d frames=%d\n", args[0], hdr.Version, hdr.Width, hdr.Height, hdr.FrameRate, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&pngDir, "png_dir", "", "also export every frame as PNG into this directory")
	return cmd
}

func writePNG(path string, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
