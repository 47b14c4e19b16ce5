// Package signature normalizes the hand-drawn signature stored on a profile.
package signature

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"

	"shaman/internal/validate"
)

const (
	MaxWidth  = 600
	MaxHeight = 200
	// MaxEncodedBytes bounds the accepted data URL before decoding.
	MaxEncodedBytes = 2 << 20
	// MaxSourceSide bounds the declared dimensions of an uploaded image.
	MaxSourceSide = 4096
	dataURLPrefix = "data:image/png;base64,"
)

// Normalize decodes a base64 image (a data URL or bare base64), converts it
// to grayscale, fits it into MaxWidth x MaxHeight and re-encodes it as a PNG
// data URL.
func Normalize(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", validate.Errorf("signature", "required", "signature is empty")
	}
	if len(encoded) > MaxEncodedBytes {
		return "", validate.Errorf("signature", "max", "signature image is too large")
	}
	payload := encoded
	if strings.HasPrefix(payload, "data:") {
		_, rest, ok := strings.Cut(payload, ",")
		if !ok {
			return "", validate.Errorf("signature", "format", "signature is not a valid data URL")
		}
		payload = rest
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", validate.Errorf("signature", "format", "signature is not valid base64")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", validate.Errorf("signature", "format", "signature is not an image")
	}
	if cfg.Width > MaxSourceSide || cfg.Height > MaxSourceSide {
		return "", validate.Errorf("signature", "max", "signature image exceeds %dx%d pixels", MaxSourceSide, MaxSourceSide)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", validate.Errorf("signature", "format", "signature is not an image")
	}
	out := imaging.Grayscale(img)
	b := out.Bounds()
	if b.Dx() > MaxWidth || b.Dy() > MaxHeight {
		out = imaging.Fit(out, MaxWidth, MaxHeight, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return "", fmt.Errorf("encode signature: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decode returns the image held by a normalized data URL.
func decode(dataURL string) (image.Image, error) {
	if !strings.HasPrefix(dataURL, dataURLPrefix) {
		return nil, fmt.Errorf("signature: unexpected encoding")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, dataURLPrefix))
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(raw))
}
