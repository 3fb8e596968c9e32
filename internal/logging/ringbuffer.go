package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Record is one buffered log line. Engine attributes naming the attach
// point, group and rule are lifted out of Attrs so they can be queried.
type Record struct {
	Time      time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Source    string            `json:"source"`
	Interface string            `json:"ifname,omitempty"`
	Dir       string            `json:"dir,omitempty"`
	Group     string            `json:"group,omitempty"`
	Rule      string            `json:"rule,omitempty"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Query selects buffered records. Empty fields match everything.
type Query struct {
	Source    string
	Interface string
	Group     string
	MinLevel  string
	Limit     int // newest Limit matches; 0 for all
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func (q Query) match(r *Record) bool {
	switch {
	case q.Source != "" && r.Source != q.Source:
		return false
	case q.Interface != "" && r.Interface != q.Interface:
		return false
	case q.Group != "" && r.Group != q.Group:
		return false
	case q.MinLevel != "" && levelRank[r.Level] < levelRank[q.MinLevel]:
		return false
	}
	return true
}

// ValidLevel reports whether s names a buffered level.
func ValidLevel(s string) bool {
	_, ok := levelRank[s]
	return ok
}

// Buffer keeps the most recent records in a fixed ring.
type Buffer struct {
	mu      sync.RWMutex
	entries []Record
	head    int
	count   int
}

// NewBuffer creates a buffer holding size records.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{entries: make([]Record, size)}
}

// Add stores r, evicting the oldest record when full.
func (b *Buffer) Add(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.head] = r
	b.head = (b.head + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// Query returns the matching records, oldest first.
func (b *Buffer) Query(q Query) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []Record{}
	size := len(b.entries)
	for i := 1; i <= b.count; i++ {
		r := &b.entries[(b.head-i+size)%size]
		if !q.match(r) {
			continue
		}
		out = append(out, *r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Reset drops every record.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.count = 0, 0
}

var (
	backlog     *Buffer
	backlogOnce sync.Once
)

// Backlog returns the process-wide buffer served by the logs API.
func Backlog() *Buffer {
	backlogOnce.Do(func() {
		backlog = NewBuffer(2000)
	})
	return backlog
}

// LevelFromSlog converts slog.Level to string
func LevelFromSlog(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level <= slog.LevelInfo:
		return "info"
	case level <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// bufferHandler copies every handled record into a Buffer before passing
// it on, whatever the output format.
type bufferHandler struct {
	next  slog.Handler
	buf   *Buffer
	attrs []slog.Attr
}

func newBufferHandler(next slog.Handler, buf *Buffer) *bufferHandler {
	return &bufferHandler{next: next, buf: buf}
}

func (h *bufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *bufferHandler) Handle(ctx context.Context, r slog.Record) error {
	rec := Record{
		Time:    r.Time,
		Level:   LevelFromSlog(r.Level),
		Source:  "system",
		Message: r.Message,
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	for _, a := range h.attrs {
		rec.set(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.set(a)
		return true
	})
	h.buf.Add(rec)
	return h.next.Handle(ctx, r)
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bufferHandler{
		next:  h.next.WithAttrs(attrs),
		buf:   h.buf,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
	}
}

func (h *bufferHandler) WithGroup(name string) slog.Handler {
	return &bufferHandler{next: h.next.WithGroup(name), buf: h.buf, attrs: h.attrs}
}

func (r *Record) set(a slog.Attr) {
	v := a.Value.String()
	switch a.Key {
	case "component":
		r.Source = strings.ToLower(v)
	case "ifname":
		r.Interface = v
	case "dir":
		r.Dir = v
	case "group":
		r.Group = v
	case "index":
		r.Rule = v
	default:
		if r.Attrs == nil {
			r.Attrs = make(map[string]string)
		}
		r.Attrs[a.Key] = v
	}
}
