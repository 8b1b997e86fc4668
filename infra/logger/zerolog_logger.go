package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how loggers write.
type Options struct {
	Level      string
	Console    bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	outMu  sync.RWMutex
	output io.Writer = defaultWriter()
	rotate *lumberjack.Logger
)

func defaultWriter() io.Writer {
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return os.Stdout
}

// Configure sets the global level and output of every logger, including the
// ones created earlier. A non-empty File adds a size-rotated log file next to
// stdout.
func Configure(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return err
		}
		level = lvl
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stdout
	if opts.Console || strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	outMu.Lock()
	defer outMu.Unlock()
	if rotate != nil {
		_ = rotate.Close()
		rotate = nil
	}
	if opts.File != "" {
		rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		w = zerolog.MultiLevelWriter(w, rotate)
	}
	output = w
	return nil
}

// Close releases the rotated log file, if any.
func Close() error {
	outMu.Lock()
	defer outMu.Unlock()
	if rotate == nil {
		return nil
	}
	err := rotate.Close()
	rotate = nil
	return err
}

// sharedOutput forwards each event to the writer installed by Configure.
type sharedOutput struct{}

func (sharedOutput) Write(p []byte) (int, error) {
	outMu.RLock()
	defer outMu.RUnlock()
	return output.Write(p)
}

func (sharedOutput) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	outMu.RLock()
	defer outMu.RUnlock()
	if lw, ok := output.(zerolog.LevelWriter); ok {
		return lw.WriteLevel(l, p)
	}
	return output.Write(p)
}

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger tagged with the component field.
func NewZerologLogger(component string) Logger {
	z := zerolog.New(sharedOutput{}).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Infow(msg string, fields map[string]any) {
	l.log.Info().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
