// Package cloudvision calls the Google Cloud Vision API for face landmarks, labels and localized
// objects. Without credentials the client is disabled and every call reports ErrUnavailable.
package cloudvision

import (
	"context"
	"errors"
	"fmt"
	"image"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/similarity"
)

const Name = "cloud_vision"

var ErrNoCredentials = errors.New("no credentials file or api key configured")

type Client struct {
	client *vision.ImageAnnotatorClient
	cfg    config.VisionConfig
	err    error
}

// New creates the annotator client. Credentials come from a service account file or an API key;
// with neither, or when creation fails, the client is disabled and Err says why.
func New(ctx context.Context, cfg config.VisionConfig) *Client {
	c := &Client{cfg: cfg}
	var opts []option.ClientOption
	switch {
	case !cfg.Enabled:
		c.err = extract.ErrUnavailable
		return c
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		c.err = ErrNoCredentials
		return c
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		c.err = fmt.Errorf("failed to create vision client: %w", err)
		return c
	}
	c.client = client
	return c
}

func (c *Client) Name() string    { return Name }
func (c *Client) Available() bool { return c.client != nil }
func (c *Client) Err() error      { return c.err }

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Landmarks runs face detection and returns every face with its named landmarks.
func (c *Client) Landmarks(ctx context.Context, img *imageio.Image) ([]extract.Face, error) {
	resp, err := c.annotate(ctx, img, "landmarks", visionpb.Feature_FACE_DETECTION)
	if err != nil {
		return nil, err
	}
	return Faces(resp), nil
}

// Annotate runs face, label and object detection in one request.
func (c *Client) Annotate(ctx context.Context, img *imageio.Image) (*extract.Annotations, error) {
	resp, err := c.annotate(ctx, img, "annotate",
		visionpb.Feature_FACE_DETECTION,
		visionpb.Feature_LABEL_DETECTION,
		visionpb.Feature_OBJECT_LOCALIZATION,
	)
	if err != nil {
		return nil, err
	}
	return Annotations(resp), nil
}

func (c *Client) annotate(ctx context.Context, img *imageio.Image, op string, types ...visionpb.Feature_Type) (*visionpb.AnnotateImageResponse, error) {
	if c.client == nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: op, Err: extract.ErrUnavailable}
	}
	content, err := imageio.EncodeJPEG(img.Pixels)
	if err != nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: op, Err: err}
	}

	features := make([]*visionpb.Feature, len(types))
	for i, t := range types {
		features[i] = &visionpb.Feature{Type: t, MaxResults: int32(c.cfg.MaxResults)}
	}
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: content},
			Features: features,
		}},
	}

	resp, err := extract.Bounded(ctx, c.cfg.Timeout, func(ctx context.Context) (*visionpb.BatchAnnotateImagesResponse, error) {
		return c.client.BatchAnnotateImages(ctx, req)
	})
	if err != nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: op, Err: err}
	}
	if len(resp.GetResponses()) == 0 {
		return nil, &extract.ExtractionError{Backend: Name, Op: op, Err: errors.New("empty response")}
	}
	r := resp.GetResponses()[0]
	if e := r.GetError(); e != nil && e.GetCode() != 0 {
		return nil, &extract.ExtractionError{Backend: Name, Op: op, Err: fmt.Errorf("vision api: %s", e.GetMessage())}
	}
	return r, nil
}

// Faces converts face annotations. Landmarks are keyed by their type name (LEFT_EYE, NOSE_TIP...).
func Faces(r *visionpb.AnnotateImageResponse) []extract.Face {
	out := make([]extract.Face, 0, len(r.GetFaceAnnotations()))
	for _, fa := range r.GetFaceAnnotations() {
		f := extract.Face{
			Bounds:     bounds(fa.GetBoundingPoly()),
			Confidence: float64(fa.GetDetectionConfidence()),
		}
		if lms := fa.GetLandmarks(); len(lms) > 0 {
			f.Landmarks = make(similarity.LandmarkSet, len(lms))
			for _, lm := range lms {
				p := lm.GetPosition()
				f.Landmarks[lm.GetType().String()] = similarity.Point{
					X: float64(p.GetX()),
					Y: float64(p.GetY()),
					Z: float64(p.GetZ()),
				}
			}
		}
		out = append(out, f)
	}
	return out
}

func Annotations(r *visionpb.AnnotateImageResponse) *extract.Annotations {
	a := &extract.Annotations{Faces: Faces(r)}
	for _, l := range r.GetLabelAnnotations() {
		a.Labels = append(a.Labels, extract.Label{Name: l.GetDescription(), Score: float64(l.GetScore())})
	}
	for _, o := range r.GetLocalizedObjectAnnotations() {
		a.Objects = append(a.Objects, extract.Label{Name: o.GetName(), Score: float64(o.GetScore())})
	}
	return a
}

func bounds(poly *visionpb.BoundingPoly) image.Rectangle {
	vs := poly.GetVertices()
	if len(vs) == 0 {
		return image.Rectangle{}
	}
	r := image.Rect(int(vs[0].GetX()), int(vs[0].GetY()), int(vs[0].GetX()), int(vs[0].GetY()))
	for _, v := range vs[1:] {
		x, y := int(v.GetX()), int(v.GetY())
		r.Min.X, r.Max.X = min(r.Min.X, x), max(r.Max.X, x)
		r.Min.Y, r.Max.Y = min(r.Min.Y, y), max(r.Max.Y, y)
	}
	return r
}

var (
	_ extract.LandmarkDetector = (*Client)(nil)
	_ extract.Labeler          = (*Client)(nil)
)
