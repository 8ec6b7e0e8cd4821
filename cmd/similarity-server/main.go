package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/high-horse/similarity-server/compare"
	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/detect"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/server"
	"github.com/high-horse/similarity-server/transparency"
	"github.com/high-horse/similarity-server/xlog"
)

var (
	configPath = flag.StringP("config", "c", "", "Path to a TOML configuration file")
	envFile    = flag.String("env-file", ".env", "Dotenv file loaded before the configuration")
	host       = flag.String("host", "", "Override the bind address")
	port       = flag.IntP("port", "p", 0, "Override the listen port")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		xlog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("error loading %s: %w", *envFile, err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := xlog.Setup(xlog.Options{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		File:         cfg.Log.File,
		RotationTime: cfg.Log.RotationTime,
		MaxAge:       cfg.Log.MaxAge,
	}); err != nil {
		return err
	}

	ctx := context.Background()
	set := buildBackends(ctx, cfg)
	defer func() {
		if err := set.Close(); err != nil {
			xlog.Warn("failed to release backends", "error", err)
		}
	}()

	comparator, err := compare.New(set, cfg.Policy)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithBackends(set),
		server.WithComparator(comparator),
		server.WithDetector(detect.New(set, cfg.Detect)),
		server.WithDecoder(buildDecoder(cfg.Decode)),
		server.WithBodyLimit(cfg.Server.BodyLimitMB << 20),
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
	}
	if cfg.Transparency.Dir != "" {
		opts = append(opts, server.WithTransparency(transparency.NewDirectory(cfg.Transparency.Dir, cfg.Transparency.Keys)))
		xlog.Info("transparency records enabled", "dir", cfg.Transparency.Dir, "keys", cfg.Transparency.Keys)
	}
	app, err := server.NewApp(opts...)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr()
	xlog.Info("Starting similarity server", "addr", addr)
	xlog.Info("Health check", "url", fmt.Sprintf("http://%s/health", addr))

	errc := make(chan error, 1)
	go func() {
		errc <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case s := <-sig:
		xlog.Info("shutting down", "signal", s.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func buildDecoder(cfg config.DecodeConfig) *imageio.Chain {
	decoders := imageio.DefaultDecoders()
	if cfg.ConvertBinary != "" {
		decoders = append(decoders, imageio.ConvertDecoder{
			Binary:    cfg.ConvertBinary,
			Timeout:   cfg.ConvertTimeout,
			MaxPixels: cfg.MaxPixels,
		})
	}
	chain := imageio.NewChain(cfg.MaxSide, cfg.MaxPixels, decoders...)
	xlog.Info("image decoders", "order", chain.Decoders(), "max_side", cfg.MaxSide, "max_pixels", cfg.MaxPixels)
	return chain
}
