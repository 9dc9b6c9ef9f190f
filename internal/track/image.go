package track

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ImageData is a row-major grayscale image.
type ImageData struct {
	Width  int
	Height int
	Pix    []float64
}

// NewImageData allocates a zeroed image.
func NewImageData(width, height int) ImageData {
	return ImageData{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the pixel at integer coordinates. Coordinates outside the
// image are clamped to the nearest edge pixel.
func (img ImageData) At(x, y int) float64 {
	x = clampInt(x, 0, img.Width-1)
	y = clampInt(y, 0, img.Height-1)
	return img.Pix[y*img.Width+x]
}

// Set writes one pixel. Out-of-range writes are ignored.
func (img ImageData) Set(x, y int, v float64) {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		return
	}
	img.Pix[y*img.Width+x] = v
}

// Interpolate samples the image bilinearly at a sub-pixel position.
// Positions off the image take the nearest edge value; a NaN coordinate
// samples as zero.
func (img ImageData) Interpolate(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0
	}
	if img.Width < 2 || img.Height < 2 {
		return img.At(int(x), int(y))
	}
	x = clampFloat(x, 0, float64(img.Width-1))
	y = clampFloat(y, 0, float64(img.Height-1))

	rx := int(x)
	ry := int(y)
	if rx > img.Width-2 {
		rx = img.Width - 2
	}
	if ry > img.Height-2 {
		ry = img.Height - 2
	}
	fx := x - float64(rx)
	fy := y - float64(ry)

	row := ry * img.Width
	v00 := img.Pix[row+rx]
	v10 := img.Pix[row+rx+1]
	v01 := img.Pix[row+img.Width+rx]
	v11 := img.Pix[row+img.Width+rx+1]

	v0 := v00 + (v10-v00)*fx
	v1 := v01 + (v11-v01)*fx
	return v0 + (v1-v0)*fy
}

// Normalize rescales the image to the range [0, 1]. A flat image is set to zero.
func (img ImageData) Normalize() {
	if len(img.Pix) == 0 {
		return
	}
	lo := floats.Min(img.Pix)
	hi := floats.Max(img.Pix)
	floats.AddConst(-lo, img.Pix)
	if hi-lo == 0 {
		return
	}
	floats.Scale(1/(hi-lo), img.Pix)
}

// BgCorrectedCOM computes the centre of mass after suppressing pixels
// within two standard deviations of the image mean.
func (img ImageData) BgCorrectedCOM() Point2 {
	if len(img.Pix) == 0 {
		return Point2{}
	}
	mean, std := stat.PopMeanStdDev(img.Pix, nil)

	var sum, momentX, momentY float64
	for y := 0; y < img.Height; y++ {
		row := img.Pix[y*img.Width : (y+1)*img.Width]
		for x, v := range row {
			w := math.Max(0, math.Abs(v-mean)-2*std)
			sum += w
			momentX += float64(x) * w
			momentY += float64(y) * w
		}
	}
	if sum == 0 {
		return Point2{X: float64(img.Width) / 2, Y: float64(img.Height) / 2}
	}
	return Point2{X: momentX / sum, Y: momentY / sum}
}

// CheckRawImage reports whether data can hold a width x height image in
// the given format with rows pitch bytes apart. A pitch of zero means
// tightly packed rows.
func CheckRawImage(width, height int, data []byte, pitch int, format PixelFormat) error {
	if width <= 0 || height <= 0 {
		return invalidArgf("image size %dx%d must be positive", width, height)
	}
	if format < PixelU8 || format > PixelFloat32 {
		return invalidArgf("unknown pixel format %v", format)
	}
	bpp := format.BytesPerPixel()
	if pitch <= 0 {
		pitch = width * bpp
	}
	if pitch < width*bpp {
		return invalidArgf("pitch %d smaller than row size %d", pitch, width*bpp)
	}
	if need := pitch*(height-1) + width*bpp; len(data) < need {
		return invalidArgf("pixel buffer holds %d bytes, need %d", len(data), need)
	}
	return nil
}

// decodePixels converts a pitched raw buffer into dst. Multi-byte formats
// are little-endian.
func decodePixels(dst []float64, width, height int, data []byte, pitch int, format PixelFormat) error {
	if err := CheckRawImage(width, height, data, pitch, format); err != nil {
		return err
	}
	bpp := format.BytesPerPixel()
	if pitch <= 0 {
		pitch = width * bpp
	}

	for y := 0; y < height; y++ {
		row := data[y*pitch:]
		out := dst[y*width : (y+1)*width]
		switch format {
		case PixelU8:
			for x := range out {
				out[x] = float64(row[x])
			}
		case PixelU16:
			for x := range out {
				out[x] = float64(binary.LittleEndian.Uint16(row[2*x:]))
			}
		case PixelFloat32:
			for x := range out {
				out[x] = float64(math.Float32frombits(binary.LittleEndian.Uint32(row[4*x:])))
			}
		}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EncodeFloat32 packs pix as little-endian float32 pixels, the layout
// SetImage expects for PixelFloat32.
func EncodeFloat32(pix []float64) []byte {
	out := make([]byte, 4*len(pix))
	for i, v := range pix {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)))
	}
	return out
}
