package imageio

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"time"

	wsq "github.com/jtejido/go-wsq"
	"github.com/spakin/netpbm"
)

// stdDecoder covers every format registered with the image package: jpeg, png, gif, bmp, tiff
// and webp.
type stdDecoder struct{}

func (stdDecoder) Name() string { return "std" }

func (stdDecoder) Decode(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

type netpbmDecoder struct{}

func (netpbmDecoder) Name() string { return "netpbm" }

func (netpbmDecoder) Decode(data []byte) (image.Image, string, error) {
	img, err := netpbm.Decode(bytes.NewReader(data), &netpbm.DecodeOptions{Target: netpbm.PNM})
	if err != nil {
		return nil, "", err
	}
	return img, "netpbm", nil
}

// wsqDecoder reads Wavelet Scalar Quantization greyscale images.
type wsqDecoder struct{}

func (wsqDecoder) Name() string { return "wsq" }

func (wsqDecoder) Decode(data []byte) (image.Image, string, error) {
	img, err := wsq.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	return img, "wsq", nil
}

// ConvertDecoder shells out to ImageMagick and reads back PNG. It catches the long tail of
// formats (HEIC, AVIF, PSD, ...) when the binary is installed. MaxPixels bounds the converted
// image the same way the chain bounds its input.
type ConvertDecoder struct {
	Binary    string
	Timeout   time.Duration
	MaxPixels int
}

func (d ConvertDecoder) Name() string { return "convert" }

func (d ConvertDecoder) Decode(data []byte) (image.Image, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Binary, "-", "png:-")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("%s: %w: %s", d.Binary, err, bytes.TrimSpace(stderr.Bytes()))
	}
	out := stdout.Bytes()
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		return nil, "", err
	}
	if err := CheckPixels("converted", cfg.Width, cfg.Height, d.MaxPixels); err != nil {
		return nil, "", err
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, "", err
	}
	return img, "converted", nil
}
