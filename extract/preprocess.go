package extract

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// preprocessImage prepares a page image for recognition: grayscale, contrast
// normalization, binarization, and upscaling when the source is below the
// minimum usable resolution. On any decode failure the original bytes are
// returned unchanged — bad preprocessing must never lose the page.
func (p Policy) preprocessImage(data []byte) []byte {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	gray := toGray(src)
	gray = autoContrast(gray)
	gray = sharpen(gray)

	// Approximate DPI by assuming an A4 page: below-minimum sources come out
	// narrower than minDPI * 8.27in. Upscale to the target before binarizing
	// so the threshold works on the larger image.
	minWidth := int(float64(p.MinDPI) * 8.27)
	if gray.Bounds().Dx() > 0 && gray.Bounds().Dx() < minWidth {
		scale := float64(p.TargetDPI) / float64(p.MinDPI)
		gray = upscale(gray, scale)
	}

	bin := binarize(gray, 128)

	var buf bytes.Buffer
	if err := png.Encode(&buf, bin); err != nil {
		return data
	}
	return buf.Bytes()
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(b)
	xdraw.Draw(gray, b, src, b.Min, xdraw.Src)
	return gray
}

// autoContrast stretches the histogram so the darkest pixel maps to 0 and
// the brightest to 255.
func autoContrast(src *image.Gray) *image.Gray {
	lo, hi := uint8(255), uint8(0)
	for _, v := range src.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return src
	}

	out := image.NewGray(src.Bounds())
	span := float64(hi - lo)
	for i, v := range src.Pix {
		out.Pix[i] = uint8(float64(v-lo) / span * 255)
	}
	return out
}

// sharpen applies a 3x3 unsharp kernel to recover glyph edges softened by
// scanning. Border pixels are copied unchanged.
func sharpen(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	copy(out.Pix, src.Pix)
	if w < 3 || h < 3 {
		return out
	}

	at := func(x, y int) int {
		return int(src.Pix[y*src.Stride+x])
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := 5*at(x, y) - at(x-1, y) - at(x+1, y) - at(x, y-1) - at(x, y+1)
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.Pix[y*out.Stride+x] = uint8(v)
		}
	}
	return out
}

// upscale resizes by the given factor with Catmull-Rom interpolation, which
// keeps glyph edges sharp enough for recognition.
func upscale(src *image.Gray, factor float64) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0,
		int(float64(b.Dx())*factor), int(float64(b.Dy())*factor)))
	xdraw.CatmullRom.Scale(out, out.Bounds(), src, b, xdraw.Src, nil)
	return out
}

// binarize thresholds the image to pure black and white.
func binarize(src *image.Gray, threshold uint8) *image.Gray {
	out := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		if v > threshold {
			out.Pix[i] = 255
		} else {
			out.Pix[i] = 0
		}
	}
	return out
}
