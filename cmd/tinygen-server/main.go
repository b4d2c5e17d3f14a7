package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EdwardJXLi/TinyGen/internal/config"
	"github.com/EdwardJXLi/TinyGen/internal/eventbus"
	"github.com/EdwardJXLi/TinyGen/internal/fetcher"
	"github.com/EdwardJXLi/TinyGen/internal/generator"
	"github.com/EdwardJXLi/TinyGen/internal/server"
	"github.com/EdwardJXLi/TinyGen/internal/task"
	"github.com/EdwardJXLi/TinyGen/internal/task/repositoryimpl"
	"github.com/EdwardJXLi/TinyGen/pkg/clog"
	"github.com/EdwardJXLi/TinyGen/pkg/storage"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup collaborators
	repoFetcher := fetcher.NewArchiveFetcher(nil, env.MaxArchiveBytes)
	gen := generator.NewOpenAIGenerator(
		env.OpenAIAPIKey,
		env.OpenAIBaseURL,
		generator.WithModel(env.GPTModel),
		generator.WithTemperature(env.Temperature),
	)

	// Setup task lifecycle components
	bus := eventbus.New()
	registry := task.NewRegistry(bus)
	service := task.NewService(registry, repoFetcher, gen)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup finished-task archive
	if env.ArchiveEnabled {
		var store storage.Storage
		switch env.StorageEnv.Type {
		case "s3":
			store, err = storage.NewS3Storage(context.Background(), env.S3Bucket, env.S3Prefix, env.S3Region)
			if err != nil {
				slog.Error("failed to create S3 storage", "error", err)
				os.Exit(1)
			}
		default:
			store, err = storage.NewLocalStorage(env.BaseDir)
			if err != nil {
				slog.Error("failed to create local storage", "error", err)
				os.Exit(1)
			}
		}
		archiver := task.NewArchiver(bus, registry, repositoryimpl.NewYAMLRepository(store))
		go archiver.Start(ctx)
	}

	srv := server.NewServer(env, service)
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give in-flight requests and runners time to finish after stream
	// contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	service.Wait(shutdownCtx)
}
