package gallery

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// PreviewSize bounds both sides of a preview thumbnail.
const PreviewSize = 300

// Thumbnail renders a JPEG preview of a staged file. Formats the standard
// decoders do not read (webp) are returned unchanged.
func Thumbnail(p *Pending) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(p.Data))
	if err != nil {
		if p.ContentType == "image/webp" {
			return p.Data, p.ContentType, nil
		}
		return nil, "", err
	}
	thumb := resize.Thumbnail(PreviewSize, PreviewSize, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}
