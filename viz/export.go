// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viz

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/bmp"

	"github.com/gogpu/shaderlab/buffers"
)

// ExportRaw returns a copy of a script's raw backing-buffer bytes.
func (v *Viewer) ExportRaw(scriptID string) ([]byte, error) {
	return v.manager.Read(scriptID)
}

// Image converts a script's output into an 8-bit RGBA image. Channel
// values are clamped to [0,1]; formats with fewer than four channels fill
// the missing channels with zero and an opaque alpha.
func (v *Viewer) Image(scriptID string) (*image.NRGBA, error) {
	res, ok := v.manager.Get(scriptID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", buffers.ErrNotFound, scriptID)
	}
	data, err := v.manager.Read(scriptID)
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, int(res.Width), int(res.Height)))
	bpp := uint64(res.Format.BytesPerPixel())
	for y := uint64(0); y < uint64(res.Height); y++ {
		for x := uint64(0); x < uint64(res.Width); x++ {
			off := (y*uint64(res.Width) + x) * bpp
			if off+bpp > uint64(len(data)) {
				break
			}
			channels := decodePixel(res.Format, data[off:off+bpp])
			var rgba [4]uint8
			rgba[3] = 255
			for i, val := range channels {
				if i > 3 {
					break
				}
				rgba[i] = clampByte(val)
			}
			img.SetNRGBA(int(x), int(y), color.NRGBA{R: rgba[0], G: rgba[1], B: rgba[2], A: rgba[3]})
		}
	}
	return img, nil
}

// ExportPNG writes a script's output as a PNG image.
func (v *Viewer) ExportPNG(scriptID string, w io.Writer) error {
	img, err := v.Image(scriptID)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// ExportBMP writes a script's output as a BMP image.
func (v *Viewer) ExportBMP(scriptID string, w io.Writer) error {
	img, err := v.Image(scriptID)
	if err != nil {
		return err
	}
	return bmp.Encode(w, img)
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
