package gateway

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// decodeImageB64 decodes a base64-encoded JPEG, PNG, or WEBP frame as sent
// on the video_frame_meta event. The blank imports above register the
// matching image.Decode codecs.
func decodeImageB64(b64 string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("gateway: decode base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gateway: decode image: %w", err)
	}
	return img, nil
}
