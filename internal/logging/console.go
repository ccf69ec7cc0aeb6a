package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one line per record:
//
//	2026-01-02T15:04:05Z INFO  coordinator: [0f8fad5b/a] signal accepted bytes=10
//
// The component, batch id and item id are lifted out of the attributes into
// the line prefix. Attributes added through With are rendered once.
type consoleHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	source bool

	scope  scope
	group  string
	fields []byte
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(p)
	return err
}

// scope holds the values shown in the line prefix.
type scope struct {
	component string
	batch     string
	item      string
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) *consoleHandler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.fields = slices.Clip(h.fields)
	for _, a := range attrs {
		next.fields = next.scope.absorb(next.fields, next.group, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.group + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	sc := h.scope
	fields := slices.Clip(h.fields)
	r.Attrs(func(a slog.Attr) bool {
		fields = sc.absorb(fields, h.group, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf := make([]byte, 0, 96+len(fields))
	buf = ts.UTC().AppendFormat(buf, time.RFC3339)
	buf = append(buf, ' ')
	buf = appendLevel(buf, r.Level)
	buf = sc.appendPrefix(buf)
	if msg := strings.TrimSpace(r.Message); msg != "" {
		buf = append(buf, msg...)
	} else {
		buf = append(buf, "(no message)"...)
	}
	if h.source {
		if src := r.Source(); src != nil && src.File != "" {
			buf = append(buf, " ["...)
			buf = append(buf, filepath.Base(src.File)...)
			buf = append(buf, ':')
			buf = strconv.AppendInt(buf, int64(src.Line), 10)
			buf = append(buf, ']')
		}
	}
	buf = append(buf, fields...)
	buf = append(buf, '\n')
	return h.out.write(buf)
}

// absorb lifts top-level component, batch and item attributes into the
// scope and renders everything else as key=value onto buf.
func (s *scope) absorb(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := group
		if a.Key != "" {
			inner = group + a.Key + "."
		}
		for _, member := range a.Value.Group() {
			buf = s.absorb(buf, inner, member)
		}
		return buf
	}
	if group == "" {
		var slot *string
		switch a.Key {
		case FieldComponent:
			slot = &s.component
		case FieldBatchID:
			slot = &s.batch
		case FieldItemID:
			slot = &s.item
		}
		if slot != nil && *slot == "" {
			*slot = valueText(a.Value)
			return buf
		}
	}
	buf = append(buf, ' ')
	buf = append(buf, group...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return appendQuoted(buf, valueText(a.Value))
}

func (s scope) appendPrefix(buf []byte) []byte {
	if s.component != "" {
		buf = append(buf, s.component...)
		buf = append(buf, ": "...)
	}
	if s.batch == "" && s.item == "" {
		return buf
	}
	buf = append(buf, '[')
	buf = append(buf, shortID(s.batch)...)
	if s.item != "" {
		buf = append(buf, '/')
		buf = append(buf, s.item...)
	}
	return append(buf, "] "...)
}

func appendLevel(buf []byte, level slog.Level) []byte {
	label := level.String()
	buf = append(buf, label...)
	for n := len(label); n < 6; n++ {
		buf = append(buf, ' ')
	}
	return buf
}

func valueText(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func appendQuoted(buf []byte, s string) []byte {
	plain := s != "" && !strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"'
	})
	if plain {
		return append(buf, s...)
	}
	return strconv.AppendQuote(buf, s)
}

// shortID keeps console lines readable when batch ids are UUIDs.
func shortID(id string) string {
	if len(id) == 36 && strings.Count(id, "-") == 4 {
		return id[:8]
	}
	return id
}
