package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level string
	// Console enables the stdout sink; JSON switches it from the
	// human-readable writer to raw JSON lines.
	Console bool
	JSON    bool
	File    FileConfig
	// Service, when set, is stamped on every line as svc=<name>.
	Service string
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./contentpilot.log"

// Service owns the sinks and swaps them on Apply. Loggers derived from it
// pick up the change on their next call.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	stdout io.Writer
	root   atomic.Pointer[zerolog.Logger]
	file   *os.File
}

// New applies cfg and returns the service with a root Logger bound to it.
func New(cfg Config) (*Service, Logger) {
	s := &Service{stdout: os.Stdout}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Level returns the active minimum level.
func (s *Service) Level() Level { return s.current().GetLevel() }

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFileLocked()
}

func (s *Service) closeFileLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Apply swaps level and sinks. The log file stays open unless its path or
// enablement changed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.file != nil && (!cfg.File.Enabled || filePath(prev) != filePath(cfg)) {
		_ = s.closeFileLocked()
	}
	s.rebuildLocked()
}

// Reopen closes and reopens the log file, for logrotate's copy-less rotation
// (SIGHUP).
func (s *Service) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.File.Enabled {
		return nil
	}
	if err := s.closeFileLocked(); err != nil {
		return err
	}
	s.rebuildLocked()
	if s.file == nil {
		return fmt.Errorf("logx: reopen %s failed", filePath(s.cfg))
	}
	return nil
}

func (s *Service) rebuildLocked() {
	cfg := s.cfg
	writers := make([]io.Writer, 0, 2)
	if cfg.Console {
		if cfg.JSON {
			writers = append(writers, s.stdout)
		} else {
			writers = append(writers, newConsoleWriter(s.stdout))
		}
	}
	if cfg.File.Enabled {
		if s.file == nil {
			s.file = openLogFile(filePath(cfg))
		}
		if s.file != nil {
			writers = append(writers, zerolog.SyncWriter(s.file))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(s.stdout))
	}

	zc := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp()
	if cfg.Service != "" {
		zc = zc.Str("svc", cfg.Service)
	}
	zl := zc.Logger()
	s.root.Store(&zl)
}

func filePath(cfg Config) string {
	if p := strings.TrimSpace(cfg.File.Path); p != "" {
		return p
	}
	return defaultLogFile
}

func openLogFile(path string) *os.File {
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		return nil
	}
	return f
}

func newConsoleWriter(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	cw.FormatCaller = func(i interface{}) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
