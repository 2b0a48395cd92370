// Package logging configures the process-wide phuslu logger.
package logging

import (
	"os"
	"strings"

	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/config"
)

// Setup replaces log.DefaultLogger according to cfg.
func Setup(cfg config.LoggingConfig) {
	log.DefaultLogger = New(cfg)
}

func New(cfg config.LoggingConfig) log.Logger {
	logger := log.Logger{
		Level:      log.ParseLevel(strings.ToLower(cfg.Level)),
		TimeFormat: "15:04:05",
	}
	if strings.EqualFold(cfg.Format, "json") {
		logger.TimeFormat = ""
		logger.Writer = &log.IOWriter{Writer: os.Stderr}
		return logger
	}
	logger.Writer = &log.ConsoleWriter{
		Writer:         os.Stderr,
		ColorOutput:    log.IsTerminal(os.Stderr.Fd()),
		QuoteString:    true,
		EndWithMessage: true,
	}
	return logger
}
