package logsink

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// StreamConfig describes one of the four output files. Path == "" disables
// the stream entirely.
type StreamConfig struct {
	Path   string
	Format Format
	// MaxSizeMB/MaxBackups/MaxAge are forwarded to lumberjack for rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// stream owns one output file: a buffered writer over a rotating file, plus
// the format it renders records in.
type stream struct {
	name    string
	format  Format
	wroteHdr bool
	w       *bufio.Writer
	closer  io.Closer
}

// bufferSize matches spec §4.3: 8 MiB when bodies may be logged (debug),
// 64 KiB otherwise.
func bufferSize(name string, captureBody bool) int {
	if name == "debug" && captureBody {
		return 8 << 20
	}
	return 64 << 10
}

func newStream(name string, cfg StreamConfig, captureBody bool, log logrus.FieldLogger) *stream {
	if cfg.Path == "" {
		return nil
	}
	var out io.WriteCloser
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAgeDays, 0),
	}
	out = lj

	// A file that fails to open is disabled for the rest of the test; we
	// detect that lazily on first write since lumberjack opens on demand.
	// Exercise that path eagerly here so Sink can log and continue without
	// this stream when the path itself is unwritable (e.g. bad directory).
	if f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		log.WithError(err).Warnf("%s log: failed to open %s, disabling stream", name, cfg.Path)
		return nil
	} else {
		f.Close()
	}

	return &stream{
		name:   name,
		format: cfg.Format,
		w:      bufio.NewWriterSize(out, bufferSize(name, captureBody)),
		closer: out,
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func (s *stream) writeHeaderIfCSV() {
	if s.format != FormatCSV || s.wroteHdr {
		return
	}
	var hdr string
	switch s.name {
	case "request":
		hdr = requestHeader()
	case "task":
		hdr = taskHeader()
	case "error":
		hdr = errorHeader()
	case "debug":
		hdr = debugHeader()
	}
	fmt.Fprint(s.w, hdr)
	s.wroteHdr = true
}

func (s *stream) write(ev Event) error {
	s.writeHeaderIfCSV()
	switch s.format {
	case FormatCSV:
		switch ev.Kind {
		case KindRequest:
			fmt.Fprint(s.w, requestCSV(ev.Request))
		case KindTask:
			fmt.Fprint(s.w, taskCSV(ev.Task))
		case KindError:
			fmt.Fprint(s.w, errorCSV(ev.Error))
		case KindDebug:
			fmt.Fprint(s.w, debugCSV(ev.Debug))
		}
		return nil
	case FormatJSON:
		switch ev.Kind {
		case KindRequest:
			return renderJSON(ev.Request, s.w)
		case KindTask:
			return renderJSON(ev.Task, s.w)
		case KindError:
			return renderJSON(ev.Error, s.w)
		case KindDebug:
			return renderJSON(ev.Debug, s.w)
		}
		return nil
	case FormatRaw:
		_, err := s.w.WriteString(renderRaw(ev))
		return err
	case FormatPretty:
		_, err := s.w.WriteString(renderPretty(ev))
		return err
	}
	return nil
}

func (s *stream) flush() error {
	return s.w.Flush()
}

func (s *stream) close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.closer.Close()
}
