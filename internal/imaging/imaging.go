// Package imaging provides the frame preprocessing shared by the video
// change detector (C5) and frame capturer (C6): ROI cropping, grayscale
// downscaling with light blur for hashing, and resize+encode for storage.
//
// Resizing is delegated to [github.com/disintegration/imaging], the same
// library used for frame processing elsewhere in the retrieved corpus.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"

	"github.com/notemesh/realtime-core/internal/domain"
)

// Crop clamps roi to img's bounds and returns the cropped sub-image. A
// zero-value (empty) roi returns img unchanged, matching §4.5 "full frame if
// unset".
func Crop(img image.Image, roi domain.Rect) image.Image {
	if roi.Empty() {
		return img
	}
	b := img.Bounds()
	x0 := clamp(roi.X, b.Min.X, b.Max.X)
	y0 := clamp(roi.Y, b.Min.Y, b.Max.Y)
	x1 := clamp(roi.X+roi.W, x0, b.Max.X)
	y1 := clamp(roi.Y+roi.H, y0, b.Max.Y)
	if x1 <= x0 || y1 <= y0 {
		return img
	}
	return imaging.Crop(img, image.Rect(x0, y0, x1, y1))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DetectionFrame produces a grayscale buffer of exactly w x h pixels with a
// light blur applied, suitable for perceptual hashing and SSIM comparison
// (§4.5). The returned slice is row-major, one byte per pixel (0-255).
func DetectionFrame(img image.Image, w, h int) []byte {
	resized := imaging.Resize(img, w, h, imaging.Box)
	blurred := imaging.Blur(resized, 0.6)
	gray := imaging.Grayscale(blurred)

	buf := make([]byte, w*h)
	b := gray.Bounds()
	for y := 0; y < h && y < b.Dy(); y++ {
		for x := 0; x < w && x < b.Dx(); x++ {
			r, _, _, _ := gray.At(b.Min.X+x, b.Min.Y+y).RGBA()
			buf[y*w+x] = byte(r >> 8)
		}
	}
	return buf
}

// CaptureFrame resizes img to w x h for storage and encodes it. WEBP
// encoding is attempted first when webpEncode is non-nil; on any encoder
// error (or when unavailable) it falls back to JPEG, matching §4.6.
func CaptureFrame(img image.Image, w, h, jpegQuality int) (data []byte, ext string, err error) {
	resized := imaging.Resize(img, w, h, imaging.Lanczos)

	if b, encErr := webpEncode(resized); encErr == nil {
		return b, "webp", nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("imaging: jpeg encode: %w", err)
	}
	return buf.Bytes(), "jpg", nil
}

// webpEncode is the seam for a WEBP encoder. No WEBP encoder library was
// available anywhere in the retrieved corpus (golang.org/x/image only
// decodes WEBP), so this always reports unavailable and CaptureFrame falls
// back to JPEG. The seam is kept so a real encoder can be dropped in later
// without touching call sites.
func webpEncode(img image.Image) ([]byte, error) {
	return nil, errWebpUnavailable
}

var errWebpUnavailable = fmt.Errorf("imaging: no webp encoder available")

// GrayAt returns the 0-255 luma sample at (x,y) in a row-major grayscale
// buffer of the given width.
func GrayAt(buf []byte, w, x, y int) byte {
	return buf[y*w+x]
}

// ToGray16 converts a standard library grayscale image to a byte buffer,
// used by tests that build synthetic frames with image/color directly.
func ToGray16(img *image.Gray, w, h int) []byte {
	buf := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf[y*w+x] = img.GrayAt(x, y).Y
		}
	}
	return buf
}
