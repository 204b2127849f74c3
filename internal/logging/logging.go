package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Init(level zerolog.Level, path string, console bool) {
	var writers []io.Writer

	if path != "" {
		logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			panic(fmt.Errorf("failed to open log file: %w", err))
		}
		writers = append(writers, logFile)
	}
	if console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}

	multi := zerolog.MultiLevelWriter(writers...)

	logger := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
}
