// Package imageio loads grayscale camera frames from TIFF and PNG files.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"
)

// ErrUnsupported is returned for file types that are not TIFF or PNG.
var ErrUnsupported = errors.New("unsupported image format")

// Frame is a grayscale image in row-major order with intensities in the
// range of the source bit depth.
type Frame struct {
	Width, Height int
	Pix           []float64
}

// At returns the intensity at (x, y).
func (f Frame) At(x, y int) float64 { return f.Pix[y*f.Width+x] }

// ROI copies the w by h window whose top-left corner is (x, y).
func (f Frame) ROI(x, y, w, h int) ([]float64, error) {
	if w <= 0 || h <= 0 || x < 0 || y < 0 || x+w > f.Width || y+h > f.Height {
		return nil, fmt.Errorf("roi %dx%d at (%d,%d) outside %dx%d frame", w, h, x, y, f.Width, f.Height)
	}
	out := make([]float64, 0, w*h)
	for row := y; row < y+h; row++ {
		out = append(out, f.Pix[row*f.Width+x:row*f.Width+x+w]...)
	}
	return out, nil
}

// ROICentered copies the w by h window centred on (cx, cy), shifted to lie
// inside the frame. It returns the top-left corner actually used.
func (f Frame) ROICentered(cx, cy float64, w, h int) ([]float64, image.Point, error) {
	x := clamp(int(cx+0.5)-w/2, 0, f.Width-w)
	y := clamp(int(cy+0.5)-h/2, 0, f.Height-h)
	pix, err := f.ROI(x, y, w, h)
	return pix, image.Pt(x, y), err
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// Decode reads a TIFF or PNG image, picking the decoder from ext
// (".tif", ".tiff" or ".png").
func Decode(r io.Reader, ext string) (Frame, error) {
	var (
		img image.Image
		err error
	)
	switch strings.ToLower(ext) {
	case ".tif", ".tiff":
		img, err = tiff.Decode(r)
	case ".png":
		img, err = png.Decode(r)
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if err != nil {
		return Frame{}, err
	}
	return FromImage(img), nil
}

// LoadFrame decodes the image file at path.
func LoadFrame(path string) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, err
	}
	defer f.Close()
	fr, err := Decode(f, filepath.Ext(path))
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return fr, nil
}

// FromImage converts any image to grayscale. 8-bit and 16-bit gray images
// keep their raw values; other models go through color.Gray16Model.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	fr := Frame{Width: b.Dx(), Height: b.Dy(), Pix: make([]float64, b.Dx()*b.Dy())}
	i := 0
	switch m := img.(type) {
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				fr.Pix[i] = float64(m.GrayAt(x, y).Y)
				i++
			}
		}
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				fr.Pix[i] = float64(m.Gray16At(x, y).Y)
				i++
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				fr.Pix[i] = float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
				i++
			}
		}
	}
	return fr
}

// ToGray16 scales a frame into a 16-bit image, mapping [lo, hi] onto the
// full range.
func ToGray16(fr Frame, lo, hi float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, fr.Width, fr.Height))
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}
	for y := 0; y < fr.Height; y++ {
		for x := 0; x < fr.Width; x++ {
			v := (fr.At(x, y) - lo) * scale
			img.SetGray16(x, y, color.Gray16{Y: uint16(max(0, min(65535, v+0.5)))})
		}
	}
	return img
}

// WriteTIFF encodes a frame as a deflate-compressed 16-bit TIFF.
func WriteTIFF(w io.Writer, fr Frame, lo, hi float64) error {
	return tiff.Encode(w, ToGray16(fr, lo, hi), &tiff.Options{Compression: tiff.Deflate})
}

// ListFrames returns the TIFF and PNG files in dir in lexical order.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".tif", ".tiff", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
