package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"8000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// APIKey guards all routes except /health when set. Empty disables auth.
	APIKey string `envconfig:"API_KEY"`
}

type GeneratorEnv struct {
	OpenAIAPIKey  string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	GPTModel      string  `envconfig:"DEFAULT_GPT_MODEL" default:"gpt-3.5-turbo"`
	Temperature   float64 `envconfig:"GPT_TEMPERATURE" default:"0.4"`
}

type FetcherEnv struct {
	// MaxArchiveBytes caps the uncompressed size of a fetched repository.
	MaxArchiveBytes int64 `envconfig:"FETCH_MAX_BYTES" default:"33554432"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".tinygen/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"tinygen/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
	// ArchiveEnabled persists a snapshot of every finished task.
	ArchiveEnabled bool `envconfig:"ARCHIVE_ENABLED" default:"true"`
}

type Env struct {
	BaseEnv
	GeneratorEnv
	FetcherEnv
	StorageEnv
}

const namespace = "TINYGEN"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
