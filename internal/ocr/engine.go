package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// engine checks tesseract availability once, on first use. Initialization
// outcome is remembered so a missing binary fails every extraction fast
// instead of probing the system each time.
type engine struct {
	binary  string
	timeout time.Duration
	runner  Runner
	logger  *slog.Logger

	once    sync.Once
	initErr error
}

func newEngine(binary string, timeout time.Duration, runner Runner, logger *slog.Logger) *engine {
	return &engine{binary: binary, timeout: timeout, runner: runner, logger: logger}
}

func (g *engine) ready(context.Context) error {
	g.once.Do(func() {
		// the probe outcome is latched for the process lifetime, so it runs
		// under its own timeout: a canceled first caller must not poison
		// availability for everyone after it
		initCtx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		start := time.Now()
		out, _, err := g.runner.Run(initCtx, g.binary, "--version")
		if err != nil {
			g.initErr = fmt.Errorf("tesseract not available (%s): %w", g.binary, err)
			g.logger.Error("ocr engine init failed", "binary", g.binary, "error", err)
			return
		}
		g.logger.Info("ocr engine ready",
			"binary", g.binary,
			"version", firstLine(string(out)),
			"init_ms", time.Since(start).Milliseconds(),
		)
	})
	return g.initErr
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return s[:i]
		}
	}
	return s
}
