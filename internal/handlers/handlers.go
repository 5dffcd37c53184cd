package handlers

import (
	"context"

	"chromi/internal/converter"
	"chromi/internal/filesystem"
	"chromi/internal/queue"
	"chromi/internal/tokens"
)

// Converter is the part of converter.Converter the handlers use.
type Converter interface {
	Convert(ctx context.Context, up converter.Upload) (converter.Outcome, error)
}

// Config wires the handlers.
type Config struct {
	Converter Converter
	Jobs      queue.Queue
	Tokens    tokens.Store
	// Converted owns the files download tokens point at.
	Converted      *filesystem.Manager
	StaticDir      string
	MaxUploadBytes int64
	FFmpegPath     string
}

type Handlers struct {
	conv           Converter
	jobs           queue.Queue
	tokens         tokens.Store
	converted      *filesystem.Manager
	staticDir      string
	maxUploadBytes int64
	ffmpegPath     string
}

func New(cfg Config) *Handlers {
	jobs := cfg.Jobs
	if jobs == nil {
		jobs = queue.Disabled{}
	}
	return &Handlers{
		conv:           cfg.Converter,
		jobs:           jobs,
		tokens:         cfg.Tokens,
		converted:      cfg.Converted,
		staticDir:      cfg.StaticDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		ffmpegPath:     cfg.FFmpegPath,
	}
}
