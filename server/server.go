// Package server exposes the comparison and detection pipelines over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/high-horse/similarity-server/compare"
	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/detect"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/transparency"
	"github.com/high-horse/similarity-server/xlog"
)

const (
	allowMethods = "GET,POST,OPTIONS"
	allowHeaders = "Content-Type"
)

type App struct {
	config *Config
	*fiber.App
}

// NewApp wires the routes. Collaborators that are not given are built from defaults: an empty
// backend set and the default decoder chain and policy.
func NewApp(opts ...Option) (*App, error) {
	cfg := NewConfig(opts...)
	if cfg.Backends == nil {
		cfg.Backends = &extract.Set{}
	}
	if cfg.Decoder == nil {
		cfg.Decoder = imageio.NewChain(0, imageio.DefaultMaxPixels, imageio.DefaultDecoders()...)
	}
	if cfg.Comparator == nil {
		cmp, err := compare.New(cfg.Backends, config.Default().Policy)
		if err != nil {
			return nil, err
		}
		cfg.Comparator = cmp
	}
	if cfg.Detector == nil {
		cfg.Detector = detect.New(cfg.Backends, config.Default().Detect)
	}

	webapp := fiber.New(fiber.Config{
		AppName:               "similarity-server",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	a := &App{config: cfg, App: webapp}
	a.registerRoutes(webapp)
	return a, nil
}

func (a *App) registerRoutes(webapp *fiber.App) {
	webapp.Use(recover.New())
	webapp.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	webapp.Use(logger.New(logger.Config{
		Output: xlog.Writer(),
		Format: "${time} | ${locals:requestid} | ${status} | ${latency} | ${method} ${path} ${error}\n",
	}))
	webapp.Use(preflight)
	webapp.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: allowMethods,
		AllowHeaders: allowHeaders,
	}))

	webapp.Get("/health", a.health)
	webapp.Post("/compare", a.compare)
	webapp.Post("/detect", a.detect)
}

// preflight answers every OPTIONS request itself with a JSON body; the cors middleware would
// reply 204 without one.
func preflight(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodOptions {
		return c.Next()
	}
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowMethods, allowMethods)
	c.Set(fiber.HeaderAccessControlAllowHeaders, allowHeaders)
	return c.JSON(fiber.Map{"status": "ok"})
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	var de *imageio.DecodeError
	switch {
	case errors.As(err, &e):
		code = e.Code
	case errors.Is(err, imageio.ErrMissingInput), errors.As(err, &de):
		code = fiber.StatusBadRequest
	}
	if code >= fiber.StatusInternalServerError {
		xlog.Error("request failed", "path", c.Path(), "requestid", requestID(c), "error", err)
	}
	return c.Status(code).JSON(ErrorResponse{
		Error:  err.Error(),
		Status: StatusError,
	})
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

// requestContext bounds the pipeline by the request timeout and attaches the transparency sink.
func (a *App) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.UserContext(), a.config.RequestTimeout)
	if a.config.Transparency != nil {
		id := requestID(c)
		if id == "" {
			id = uuid.NewString()
		}
		ctx = transparency.WithLogger(ctx, transparency.NewLogger(a.config.Transparency.Session(id)))
	}
	return ctx, cancel
}

// decodeField turns one request field into pixels. Every failure here is the client's: a
// *DecodeError tagged with the field, rendered as 400 by errorHandler.
func (a *App) decodeField(field, payload string) (*imageio.Image, error) {
	data, err := imageio.ParsePayload(payload)
	if err == nil {
		var img *imageio.Image
		img, err = a.config.Decoder.Decode(data)
		if err == nil {
			return img, nil
		}
	}
	xlog.Warn("failed to decode image", "field", field, "payload_bytes", len(payload), "error", err)
	var de *imageio.DecodeError
	if errors.As(err, &de) {
		de.Field = field
		return nil, de
	}
	return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s: %v", field, err))
}
