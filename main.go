package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krau/snapclassify/config"
	"github.com/krau/snapclassify/display"
	"github.com/krau/snapclassify/lifecycle"
	"github.com/krau/snapclassify/onnx"
	"github.com/krau/snapclassify/server"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.toml")
	classifyPath := flag.String("classify", "", "classify one image and exit")
	flag.Parse()

	cfg, err := config.Init(*configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	libPath := onnx.LibPath()

	if *classifyPath != "" {
		code := classifyOnce(ctx, cfg, libPath, *classifyPath)
		cancel()
		os.Exit(code)
	}
	serve(ctx, cancel, cfg, libPath)
}

func classifyOnce(ctx context.Context, cfg config.Config, libPath, path string) int {
	out := display.NewWriter(os.Stdout)
	app := server.Init(cfg, libPath, out)
	defer app.Close()

	if _, err := app.Initializer.Run(ctx); err != nil {
		return 1
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Failed to read image", slog.String("path", path), slog.String("error", err.Error()))
		return 1
	}
	app.Controller.Select(ctx, &lifecycle.File{Name: path, Data: data})
	if lifecycle.IsErrorStatus(out.Status()) {
		return 1
	}
	return 0
}

func serve(ctx context.Context, cancel context.CancelFunc, cfg config.Config, libPath string) {
	slog.Info("Starting snapclassify")
	board := display.NewBoard(cfg.PreviewSize)
	app := server.Init(cfg, libPath, board)
	defer app.Close()

	app.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(app.Controller, app.Handle, board, server.Options{
		Token:          cfg.Token,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	addr := cfg.Host + ":" + cfg.Port
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}
	slog.Info("Listening on", slog.String("address", addr))
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", slog.String("error", err.Error()))
	}
}
