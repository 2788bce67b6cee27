package gateway

import (
	"image"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/imaging"
)

// cropAndGray applies the session's ROI (if any) and produces the
// grayscale detection-size buffer the change detector compares
// frame-to-frame (§4.5).
func cropAndGray(img image.Image, roi domain.Rect, w, h int) []byte {
	cropped := imaging.Crop(img, roi)
	return imaging.DetectionFrame(cropped, w, h)
}
