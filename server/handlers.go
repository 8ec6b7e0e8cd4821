package server

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/high-horse/similarity-server/compare"
	"github.com/high-horse/similarity-server/detect"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/policy"
	"github.com/high-horse/similarity-server/xlog"
)

func (a *App) health(c *fiber.Ctx) error {
	set := a.config.Backends
	return c.JSON(HealthResponse{
		Status:      "healthy",
		Message:     "Similarity server is running",
		Timestamp:   time.Now().Format(time.RFC3339),
		VisionAPI:   extract.Usable(set.Labeler) || extract.Usable(set.Landmarks),
		FaceEncoder: extract.Usable(set.Faces),
		FaceLocator: extract.Usable(set.Locator),
		Embedding:   extract.Usable(set.Embedder),
		Backends:    set.Availability(),
		Decoders:    a.config.Decoder.Decoders(),
	})
}

func (a *App) compare(c *fiber.Ctx) error {
	start := time.Now()

	var req CompareRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Image1 == "" || req.Image2 == "" {
		return fmt.Errorf("%w: image1 and image2 are required", imageio.ErrMissingInput)
	}

	img1, err := a.decodeField("image1", req.Image1)
	if err != nil {
		return err
	}
	img2, err := a.decodeField("image2", req.Image2)
	if err != nil {
		return err
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	res, err := a.config.Comparator.Compare(ctx, img1, img2)
	if err != nil && !errors.Is(err, policy.ErrAllMethodsFailed) {
		return err
	}

	resp := CompareResponse{
		Similarity:      res.Verdict.Score,
		Match:           res.Verdict.Matched,
		ConfidenceLevel: res.Verdict.Label,
		Message:         res.Verdict.Message,
		AnalysisType:    res.Mode,
		ComparisonType:  comparisonType(res),
		ProcessingTime:  millis(time.Since(start)),
		AnalysisDetails: &AnalysisDetails{
			Interpretation: res.Verdict.Message,
			MatchThreshold: a.config.Comparator.Policy(res.Mode).MatchThreshold(),
			Methods:        res.Estimates,
			Weights:        res.Verdict.Weights,
			Failures:       res.Failures,
			FacesDetected:  res.Faces,
			Images:         res.Images,
		},
		Status: StatusSuccess,
	}
	if err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}

	xlog.Info("comparison done",
		"requestid", requestID(c),
		"mode", res.Mode,
		"similarity", resp.Similarity,
		"match", resp.Match,
		"label", resp.ConfidenceLevel,
		"elapsed", res.Elapsed)
	return c.JSON(resp)
}

// comparisonType names the methods that contributed, e.g. face_encoding+embedding.
func comparisonType(res *compare.Result) string {
	if len(res.Estimates) == 0 {
		return "none"
	}
	methods := make([]string, len(res.Estimates))
	for i, e := range res.Estimates {
		methods[i] = e.Method
	}
	return strings.Join(methods, "+")
}

func (a *App) detect(c *fiber.Ctx) error {
	start := time.Now()

	var req DetectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Image == "" {
		return fmt.Errorf("%w: image is required", imageio.ErrMissingInput)
	}
	img, err := a.decodeField("image", req.Image)
	if err != nil {
		return err
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	det := a.config.Detector.Detect(ctx, img)
	xlog.Info("detection done", "requestid", requestID(c), "primary_type", det.PrimaryType, "faces", len(det.Faces), "elapsed", det.Elapsed)

	return c.JSON(DetectResponse{
		Status:      StatusSuccess,
		PrimaryType: string(det.PrimaryType),
		Detected: Detected{
			Faces:   faceBoxes(det.Faces),
			Pets:    labels(det.Pets),
			Objects: labels(det.Objects),
			Labels:  labels(det.Labels),
		},
		ProcessingTime: millis(time.Since(start)),
		Failures:       det.Failures,
	})
}

func faceBoxes(faces []detect.Face) []FaceBox {
	out := make([]FaceBox, 0, len(faces))
	for _, f := range faces {
		out = append(out, FaceBox{
			X:          f.Bounds.Min.X,
			Y:          f.Bounds.Min.Y,
			Width:      f.Bounds.Dx(),
			Height:     f.Bounds.Dy(),
			Confidence: f.Confidence,
			Source:     f.Source,
		})
	}
	return out
}

// labels keeps empty lists as [] in the JSON output.
func labels(ls []extract.Label) []extract.Label {
	if ls == nil {
		return []extract.Label{}
	}
	return ls
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
