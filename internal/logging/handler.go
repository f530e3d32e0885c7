package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// An [slog.Handler] that renders records through zerolog.
//
// Handlers derived with WithAttrs or WithGroup share the output, level, and
// verbosity of the handler they were derived from, so reconfiguring the root
// handler after flag parsing affects every logger already handed out.
type Handler struct {
	sink   *sink       // Shared output state.
	attrs  []slog.Attr // Attributes bound via WithAttrs, keys already qualified.
	prefix string      // Dot-joined group names opened via WithGroup.
}

// Output state shared by a handler and all of its derivatives.
type sink struct {
	mu      sync.Mutex
	name    string
	level   slog.LevelVar
	out     io.Writer
	pretty  bool
	verbose bool
	logger  zerolog.Logger
}

// Creates a handler writing JSON lines to stderr at info level.
//
// The name is attached to every JSON record as the "app" field.
func NewHandler(name string) *Handler {
	s := &sink{name: name, out: os.Stderr}
	s.level.Set(slog.LevelInfo)
	s.rebuild()
	return &Handler{sink: s}
}

// Sets the minimum level that is emitted.
func (h *Handler) SetLevel(level slog.Level) {
	h.sink.level.Set(level)
}

// Switches the output stream.
//
// When pretty is set, records are rendered with [zerolog.ConsoleWriter] for
// human consumption. Otherwise each record is a single JSON object.
func (h *Handler) SetOutput(w io.Writer, pretty bool) {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.out = w
	h.sink.pretty = pretty
	h.sink.rebuild()
}

// Enables or disables timestamps in pretty output.
func (h *Handler) SetVerbose(verbose bool) {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.verbose = verbose
	h.sink.rebuild()
}

// Reports whether records at the given level are emitted.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.sink.level.Level()
}

// Writes a record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()

	ev := h.sink.logger.WithLevel(zerologLevel(r.Level))
	if ev == nil {
		return nil
	}

	if h.sink.timestamps() && !r.Time.IsZero() {
		ev = ev.Time(zerolog.TimestampFieldName, r.Time)
	}

	for _, a := range h.attrs {
		ev = appendAttr(ev, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, h.prefix, a)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

// Returns a handler that includes the given attributes on every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	bound := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	bound = append(bound, h.attrs...)
	for _, a := range attrs {
		a.Key = qualify(h.prefix, a.Key)
		bound = append(bound, a)
	}
	return &Handler{sink: h.sink, attrs: bound, prefix: h.prefix}
}

// Returns a handler that qualifies subsequent attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{sink: h.sink, attrs: h.attrs, prefix: qualify(h.prefix, name)}
}

// Whether records carry a timestamp. JSON output always does; pretty output
// only in verbose mode.
func (s *sink) timestamps() bool {
	return s.verbose || !s.pretty
}

// Recreates the zerolog logger from the current settings. Must be called with
// the mutex held (or before the sink is shared).
func (s *sink) rebuild() {
	if s.pretty {
		cw := zerolog.ConsoleWriter{
			Out:        s.out,
			TimeFormat: time.TimeOnly,
		}
		if !s.verbose {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		s.logger = zerolog.New(cw).Level(zerolog.TraceLevel)
		return
	}
	s.logger = zerolog.New(s.out).Level(zerolog.TraceLevel).With().Str("app", s.name).Logger()
}

// Maps an slog level onto the closest zerolog level.
func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Adds a single attribute to the event, flattening groups into dotted keys.
func appendAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return ev
	}

	key := qualify(prefix, a.Key)
	v := a.Value

	switch v.Kind() {
	case slog.KindGroup:
		// Inline groups (empty key) merge into the parent.
		p := key
		if a.Key == "" {
			p = prefix
		}
		for _, ga := range v.Group() {
			ev = appendAttr(ev, p, ga)
		}
		return ev
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	}

	switch x := v.Any().(type) {
	case error:
		return ev.AnErr(key, x)
	case fmt.Stringer:
		return ev.Stringer(key, x)
	}
	return ev.Interface(key, v.Any())
}

func qualify(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if key == "" {
		return prefix
	}
	return prefix + "." + key
}
