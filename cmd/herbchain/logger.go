package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/herbchain/internal/config"
)

const defaultDevLogDir = ".herbchain/log"

// ledgerLog writes CLI and server events to the terminal and, in dev mode, to a daily logfmt file.
type ledgerLog struct {
	console *charmLog.Logger
	muted   bool
	file    *charmLog.Logger
	out     *os.File
	path    string
}

// openLedgerLog builds the console sink and, when dev mode asks for it, the dev file sink.
func openLedgerLog(stderr io.Writer, appName string, devMode bool, cfg config.LoggingConfig, now func() time.Time) (*ledgerLog, error) {
	level, err := levelFrom(cfg.Level)
	if err != nil {
		return nil, err
	}
	if stderr == nil {
		stderr = io.Discard
	}
	l := &ledgerLog{console: newSink(stderr, appName, level, charmLog.TextFormatter)}
	if !devMode || !cfg.DevFile.Enabled {
		return l, nil
	}

	if now == nil {
		now = time.Now
	}
	path, err := dailyLogPath(cfg.DevFile.Dir, appName, now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve dev log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dev log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dev log file: %w", err)
	}
	l.file = newSink(f, appName, level, charmLog.LogfmtFormatter)
	l.out = f
	l.path = path
	return l, nil
}

func levelFrom(raw string) (charmLog.Level, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return charmLog.InfoLevel, nil
	}
	level, err := charmLog.ParseLevel(name)
	if err != nil {
		return 0, fmt.Errorf("parse logging level %q: %w", raw, err)
	}
	return level, nil
}

func newSink(w io.Writer, prefix string, level charmLog.Level, format charmLog.Formatter) *charmLog.Logger {
	return charmLog.NewWithOptions(w, charmLog.Options{
		Level:           level,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       format,
	})
}

// DevLogPath is empty unless a dev file is open.
func (l *ledgerLog) DevLogPath() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the dev file, if one is open.
func (l *ledgerLog) Close() error {
	if l == nil || l.out == nil {
		return nil
	}
	return l.out.Close()
}

// SetConsoleEnabled mutes or unmutes the terminal. The dev file keeps recording.
func (l *ledgerLog) SetConsoleEnabled(enabled bool) {
	if l != nil {
		l.muted = !enabled
	}
}

func (l *ledgerLog) emit(level charmLog.Level, msg string, keyvals []any) {
	if l == nil {
		return
	}
	if !l.muted {
		l.console.Log(level, msg, keyvals...)
	}
	if l.file != nil {
		l.file.Log(level, msg, keyvals...)
	}
}

func (l *ledgerLog) Debug(msg string, keyvals ...any) { l.emit(charmLog.DebugLevel, msg, keyvals) }
func (l *ledgerLog) Info(msg string, keyvals ...any) { l.emit(charmLog.InfoLevel, msg, keyvals) }
func (l *ledgerLog) Warn(msg string, keyvals ...any) { l.emit(charmLog.WarnLevel, msg, keyvals) }
func (l *ledgerLog) Error(msg string, keyvals ...any) { l.emit(charmLog.ErrorLevel, msg, keyvals) }

// dailyLogPath names one file per app per UTC day. Relative dirs hang off the enclosing module or repo root.
func dailyLogPath(dir, appName string, day time.Time) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = defaultDevLogDir
	}
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working dir: %w", err)
		}
		dir = filepath.Join(projectRoot(cwd), dir)
	}
	name := logFileStem(appName) + "-" + day.Format("20060102") + ".log"
	return filepath.Join(filepath.Clean(dir), name), nil
}

// projectRoot climbs from dir to the first directory holding go.mod or .git, or returns dir.
func projectRoot(dir string) string {
	dir = filepath.Clean(dir)
	for cur := dir; ; {
		for _, marker := range [...]string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(cur, marker)); err == nil {
				return cur
			}
		}
		up := filepath.Dir(cur)
		if up == cur {
			return dir
		}
		cur = up
	}
}

var fileStemReplacer = strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")

func logFileStem(appName string) string {
	if stem := strings.Trim(fileStemReplacer.Replace(strings.TrimSpace(appName)), "-"); stem != "" {
		return stem
	}
	return "herbchain"
}
