package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink is the only observability capability the scheduler depends on.
// Implementations must be safe for concurrent use and should not panic; the
// scheduler drops a record whose Record call panics.
type Sink interface {
	Record(level zerolog.Level, message string)
}

type nopSink struct{}

func (nopSink) Record(zerolog.Level, string) {}

func Nop() Sink { return nopSink{} }

const LineTimeFormat = "2006-01-02 15:04:05"

// Logger writes "<timestamp> - <LEVEL> - <message>" lines to every writer it
// was built with. Each writer is serialized so records never interleave.
type Logger struct {
	logger zerolog.Logger
	file   *os.File
}

func NewLogger(debug bool, writers ...io.Writer) *Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	outs := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		outs = append(outs, lineWriter(w))
	}
	return &Logger{
		logger: zerolog.New(zerolog.MultiLevelWriter(outs...)).Level(level).With().Timestamp().Logger(),
	}
}

// NewFileLogger appends to path and mirrors every line to console.
func NewFileLogger(path string, console io.Writer, debug bool) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	writers := []io.Writer{file}
	if console != nil {
		writers = append(writers, console)
	}
	l := NewLogger(debug, writers...)
	l.file = file
	return l, nil
}

func (l *Logger) Record(level zerolog.Level, message string) {
	l.logger.WithLevel(level).Msg(message)
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func lineWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(w),
		NoColor:    true,
		TimeFormat: LineTimeFormat,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatLevel: func(i interface{}) string {
			level, _ := i.(string)
			if level == "" {
				level = "none"
			}
			return "- " + strings.ToUpper(level) + " -"
		},
	}
}

// InitLogger configures the global zerolog logger used for operational
// (non-outcome) logging.
func InitLogger(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
