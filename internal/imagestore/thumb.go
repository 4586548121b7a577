package imagestore

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/disintegration/imaging"
)

// DefaultThumbSize is the bounding box used for upload preview thumbnails.
const DefaultThumbSize = 128

// Thumbnail renders a downscaled PNG preview of a stored image and returns it
// as a data URI. The image keeps its aspect ratio and is never upscaled.
func (s *Store) Thumbnail(fp string, boxPx int) (string, error) {
	payload, ok := s.Payload(fp)
	if !ok {
		return "", fmt.Errorf("imagestore: unknown fingerprint %q", fp)
	}
	if boxPx <= 0 {
		boxPx = DefaultThumbSize
	}
	_, data, err := payloadData(payload)
	if err != nil {
		return "", err
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("imagestore: decode image: %w", err)
	}
	thumb := imaging.Fit(src, boxPx, boxPx, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return "", fmt.Errorf("imagestore: encode thumbnail: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
