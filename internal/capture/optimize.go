package capture

import (
	"bytes"

	"github.com/disintegration/imaging"
	logging "github.com/gridcap/gridcap/internal/logging"
)

// shrinkTile downscales a tile image so neither dimension exceeds
// maxDim, keeping batch payloads bounded. Anything that fails to decode
// is passed through untouched.
func shrinkTile(img []byte, maxDim int) []byte {
	if maxDim <= 0 {
		return img
	}

	decoded, err := imaging.Decode(bytes.NewReader(img))
	if err != nil {
		logging.L_warn("capture: tile decode failed, sending original", "error", err)
		return img
	}

	bounds := decoded.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return img
	}

	resized := imaging.Fit(decoded, maxDim, maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		logging.L_warn("capture: tile encode failed, sending original", "error", err)
		return img
	}

	logging.L_debug("capture: tile downscaled", "from", bounds.Dx(), "x", bounds.Dy(), "max", maxDim, "bytes", buf.Len())
	return buf.Bytes()
}
