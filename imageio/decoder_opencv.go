//go:build opencv

package imageio

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

func init() {
	platformDecoders = append(platformDecoders, opencvDecoder{})
}

// opencvDecoder is the last resort when OpenCV is linked in; its codec set overlaps the
// standard library but tolerates truncated and oddly tagged files.
type opencvDecoder struct{}

func (opencvDecoder) Name() string { return "opencv" }

func (opencvDecoder) Decode(data []byte) (image.Image, string, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, "", err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, "", errors.New("opencv could not decode payload")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, "", err
	}
	return img, "opencv", nil
}
