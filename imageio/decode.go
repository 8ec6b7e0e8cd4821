// Package imageio turns opaque request payloads into normalised pixel buffers.
//
// Decoding is an ordered list of decoders tried until one succeeds; a failing or panicking
// decoder only moves the chain on to the next one.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded payload in RGB channel order.
type Image struct {
	Pixels *image.NRGBA
	// Format is the encoding the decoder recognised (jpeg, png, pgm, wsq, ...).
	Format  string
	Decoder string
	// Bytes is the size of the encoded payload.
	Bytes int
	// Scaled is set when the image was downscaled to fit the configured bound.
	Scaled bool
}

func (i *Image) Width() int  { return i.Pixels.Bounds().Dx() }
func (i *Image) Height() int { return i.Pixels.Bounds().Dy() }

// Decoder reads one family of encodings.
type Decoder interface {
	Name() string
	Decode(data []byte) (image.Image, string, error)
}

// DefaultMaxPixels bounds width*height of an accepted image (about 160 MiB as NRGBA).
const DefaultMaxPixels = 40_000_000

// Chain tries its decoders in order.
type Chain struct {
	decoders  []Decoder
	maxSide   int
	maxPixels int
}

// NewChain builds a chain; maxSide <= 0 disables downscaling and maxPixels <= 0 disables the
// size check.
func NewChain(maxSide, maxPixels int, decoders ...Decoder) *Chain {
	return &Chain{decoders: decoders, maxSide: maxSide, maxPixels: maxPixels}
}

// DefaultDecoders returns the built-in decoders in fallback order. Decoders compiled in through
// build tags are appended last.
func DefaultDecoders() []Decoder {
	ds := []Decoder{stdDecoder{}, netpbmDecoder{}, wsqDecoder{}}
	return append(ds, platformDecoders...)
}

// platformDecoders is extended by files behind build tags.
var platformDecoders []Decoder

func (c *Chain) Decoders() []string {
	names := make([]string, len(c.decoders))
	for i, d := range c.decoders {
		names[i] = d.Name()
	}
	return names
}

// Decode runs the chain. Any failure is a *DecodeError.
func (c *Chain) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Stage: StageImage, Err: ErrEmptyPayload}
	}
	if err := c.checkSize(data); err != nil {
		return nil, &DecodeError{Stage: StageImage, Bytes: len(data), Err: err}
	}
	attempts := make([]Attempt, 0, len(c.decoders))
	for _, d := range c.decoders {
		img, format, err := safeDecode(d, data)
		if err != nil {
			attempts = append(attempts, Attempt{Decoder: d.Name(), Err: err})
			continue
		}
		out := &Image{
			Format:  format,
			Decoder: d.Name(),
			Bytes:   len(data),
		}
		out.Pixels, out.Scaled = normalize(img, c.maxSide)
		return out, nil
	}
	return nil, &DecodeError{Stage: StageImage, Bytes: len(data), Attempts: attempts}
}

// checkSize reads the header of any registered format and rejects images whose pixel buffer
// would exceed the limit. Payloads the header reader does not know are left to the decoders.
func (c *Chain) checkSize(data []byte) error {
	if c.maxPixels <= 0 {
		return nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return CheckPixels(format, cfg.Width, cfg.Height, c.maxPixels)
}

// CheckPixels fails with ErrTooLarge when width*height exceeds maxPixels.
func CheckPixels(format string, width, height, maxPixels int) error {
	if maxPixels <= 0 {
		return nil
	}
	if width < 0 || height < 0 || int64(width)*int64(height) > int64(maxPixels) {
		return fmt.Errorf("%w: %s header claims %dx%d, limit is %d pixels", ErrTooLarge, format, width, height, maxPixels)
	}
	return nil
}

func safeDecode(d Decoder, data []byte) (img image.Image, format string, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, format, err = nil, "", fmt.Errorf("decoder panic: %v", r)
		}
	}()
	img, format, err = d.Decode(data)
	if err == nil && (img == nil || img.Bounds().Empty()) {
		err = errors.New("decoded image is empty")
	}
	return img, format, err
}

// normalize converts to NRGBA with a zero origin and bounds the longest side.
func normalize(src image.Image, maxSide int) (*image.NRGBA, bool) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	scaled := false
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		if w >= h {
			h = max(1, h*maxSide/w)
			w = maxSide
		} else {
			w = max(1, w*maxSide/h)
			h = maxSide
		}
		scaled = true
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if scaled {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	} else {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	}
	return dst, scaled
}

// EncodeJPEG re-encodes an image for collaborators that only read JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
