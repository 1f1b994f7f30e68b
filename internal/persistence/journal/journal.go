// Package journal appends user-facing feedback to a zstd-compressed JSONL file.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"villagecraft.ai/internal/village/feedback"
)

// Writer appends one JSON document per line to a single zstd file. Each open
// starts a new zstd frame, so the file stays readable as one stream across
// restarts. A Writer is not safe for concurrent use.
type Writer struct {
	path string

	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Path() string { return w.path }

// Write encodes v as one line and flushes it through the compressor. After a
// failed write the file is closed and the next Write reopens it.
func (w *Writer) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if w.w == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	b = append(b, '\n')
	if _, err := w.w.Write(b); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.w.Flush(); err != nil {
		_ = w.Close()
		return err
	}
	return nil
}

func (w *Writer) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.w = f, enc, bufio.NewWriterSize(enc, 8*1024)
	return nil
}

// Close ends the current zstd frame. Closing an unopened Writer is a no-op.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	ferr := w.w.Flush()
	eerr := w.enc.Close()
	cerr := w.f.Close()
	w.f, w.enc, w.w = nil, nil, nil
	for _, err := range []error{ferr, eerr, cerr} {
		if err != nil {
			return err
		}
	}
	return nil
}

type Entry struct {
	At       string            `json:"at"`
	Kind     string            `json:"kind"`
	Seq      uint64            `json:"seq"`
	Severity feedback.Severity `json:"severity"`
	Text     string            `json:"text"`
}

// MessageJournal records every message shown on a feedback board. Listen runs
// on the board's goroutine; Close after that goroutine has stopped.
type MessageJournal struct {
	w   *Writer
	log zerolog.Logger

	failing  bool
	failures uint64
}

func NewMessageJournal(dir string, log zerolog.Logger) *MessageJournal {
	return &MessageJournal{
		w:   NewWriter(filepath.Join(dir, "messages.jsonl.zst")),
		log: log.With().Str("component", "journal").Logger(),
	}
}

// Listen matches feedback.Listener. Hide events are not journaled.
//
// A failed write is logged once; later failures are only counted until a write
// succeeds again.
func (j *MessageJournal) Listen(ev feedback.Event) {
	if ev.Kind != feedback.Shown {
		return
	}
	err := j.w.Write(Entry{
		At:       ev.Message.ShownAt.UTC().Format(time.RFC3339Nano),
		Kind:     string(ev.Kind),
		Seq:      ev.Message.Seq,
		Severity: ev.Message.Severity,
		Text:     ev.Message.Text,
	})
	if err == nil {
		if j.failing {
			j.log.Info().Uint64("failures", j.failures).Msg("journal writes recovered")
		}
		j.failing = false
		return
	}
	j.failures++
	if !j.failing {
		j.log.Error().Err(err).Str("path", j.w.Path()).Uint64("seq", ev.Message.Seq).Msg("journal write failed")
	}
	j.failing = true
}

// Failures reports how many messages could not be journaled.
func (j *MessageJournal) Failures() uint64 { return j.failures }

func (j *MessageJournal) Close() error { return j.w.Close() }
