// Package corelog is the level-filtered structured log sink lsyncd's core
// writes to: console, an optional append-only file, and optionally the
// system log. It is a direct descendant of lsyncd.c's logstring0/printlogf,
// rebuilt on top of logrus the way the rest of the example pack reaches for
// logrus instead of fmt.Fprintf for anything structured.
package corelog

import (
	"fmt"
	"log/syslog"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the exported integer log-level vocabulary; runner (policy) code
// depends on these values being stable.
type Level int

const (
	Debug   Level = 1
	Verbose Level = 2
	Normal  Level = 3
	Error   Level = 4

	// CoreFlag marks a level value as originating inside the native core
	// rather than being forwarded from the policy layer.
	CoreFlag Level = 0x80
)

func (l Level) base() Level { return l &^ CoreFlag }

func (l Level) isCore() bool { return l&CoreFlag != 0 }

func (l Level) logrusLevel() logrus.Level {
	switch l.base() {
	case Debug:
		return logrus.DebugLevel
	case Verbose, Normal:
		return logrus.InfoLevel
	case Error:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Origin names the two sources a message can come from: the native core or
// the policy layer. Logger does not take an Origin; it reads the origin from
// a level's CoreFlag bit, which selects the textual prefix (see prefix).
type Origin int

const (
	Policy Origin = iota
	Core
)

// Config is the process-wide log configuration. It is set once, in
// Configure, and never mutated afterward: mutable only during
// initialization, fixed for the life of the process.
type Config struct {
	MinLevel   Level
	LogFile    string
	SysLog     bool
	Daemonized bool
}

// Logger is the process-wide log sink built from a Config.
type Logger struct {
	cfg Config

	console    *logrus.Logger // stdout, for level < Error
	consoleErr *logrus.Logger // stderr, for level == Error
	file       *logrus.Logger
	syslog     *syslog.Writer // written directly, bypassing logrus's level table

	mu sync.Mutex
}

// consoleFormatter writes "HH:MM:SS prefix message\n", matching lsyncd.c's
// strftime(ct, ..., "%T", ...) console format.
type consoleFormatter struct{}

func (consoleFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ts := e.Time.Format("15:04:05")
	prefix, _ := e.Data["prefix"].(string)
	line := fmt.Sprintf("%s %s%s\n", ts, prefix, e.Message)
	return []byte(line), nil
}

// fileFormatter matches lsyncd.c's ctime()-based file format: a full
// timestamp, no trailing newline stripped twice.
type fileFormatter struct{}

func (fileFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ts := e.Time.Format("Mon Jan  2 15:04:05 2006")
	prefix, _ := e.Data["prefix"].(string)
	line := fmt.Sprintf("%s: %s%s\n", ts, prefix, e.Message)
	return []byte(line), nil
}

// Configure builds the process-wide Logger. It is fatal (process exit) if
// the log file cannot be opened for append.
func Configure(cfg Config) *Logger {
	l := &Logger{cfg: cfg}

	if !cfg.Daemonized {
		l.console = logrus.New()
		l.console.SetFormatter(consoleFormatter{})
		l.console.SetLevel(logrus.TraceLevel) // filtering is done by corelog, not logrus
		l.console.SetOutput(os.Stdout)

		l.consoleErr = logrus.New()
		l.consoleErr.SetFormatter(consoleFormatter{})
		l.consoleErr.SetLevel(logrus.TraceLevel)
		l.consoleErr.SetOutput(os.Stderr)
	}

	if cfg.LogFile != "" {
		// Verify the file can be opened now; later failures to open are
		// fatal per message, checked in writeFile.
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "core: cannot open logfile [%s]!\n", cfg.LogFile)
			os.Exit(1)
		}
		f.Close()
		l.file = logrus.New()
		l.file.SetFormatter(fileFormatter{})
		l.file.SetLevel(logrus.TraceLevel)
	}

	if cfg.SysLog {
		// log/syslog.Writer is used directly instead of
		// logrus/hooks/syslog: that hook's Fire maps every logrus level
		// to a fixed syslog severity with no LOG_NOTICE case, and this
		// destination must send Verbose/Normal at LOG_NOTICE, matching
		// lsyncd.c's own syslog priority table.
		w, err := syslog.New(syslog.LOG_NOTICE|syslog.LOG_DAEMON, "lsyncd")
		if err == nil {
			l.syslog = w
		}
	}

	return l
}

func (l *Logger) prefix(level Level) string {
	coremsg := level.isCore()
	switch level.base() {
	case Error:
		if coremsg {
			return "CORE ERROR: "
		}
		return "ERROR: "
	default:
		if coremsg {
			return "core: "
		}
		return ""
	}
}

// Log emits message at level, dropping it silently if below the configured
// minimum. message is already formatted; callers that need formatting
// should use Logf so that filtered-out messages never pay for Sprintf.
func (l *Logger) Log(level Level, message string) {
	if level.base() < l.cfg.MinLevel {
		return
	}
	l.write(level, message)
}

// Logf is Log with Sprintf-style formatting, applied only after the level
// filter passes.
func (l *Logger) Logf(level Level, format string, args ...interface{}) {
	if level.base() < l.cfg.MinLevel {
		return
	}
	l.write(level, fmt.Sprintf(format, args...))
}

func (l *Logger) write(level Level, message string) {
	prefix := l.prefix(level)
	fields := logrus.Fields{"prefix": prefix}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.console != nil {
		// lsyncd.c routes ERROR-level console output to stderr.
		target := l.console
		if level.base() == Error {
			target = l.consoleErr
		}
		target.WithFields(fields).Log(level.logrusLevel(), message)
	}

	if l.file != nil {
		l.writeFile(prefix, message)
	}

	if l.syslog != nil {
		l.writeSyslog(level, prefix+message)
	}
}

// writeSyslog sends line at the syslog severity lsyncd.c's own priority
// table uses: Debug stays LOG_DEBUG, Verbose and Normal both become
// LOG_NOTICE, and Error becomes LOG_ERR. This bypasses logrus's own level
// table entirely, which has no notion of LOG_NOTICE.
func (l *Logger) writeSyslog(level Level, line string) {
	var err error
	switch level.base() {
	case Debug:
		err = l.syslog.Debug(line)
	case Verbose, Normal:
		err = l.syslog.Notice(line)
	case Error:
		err = l.syslog.Err(line)
	default:
		err = l.syslog.Info(line)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "core: error writing to syslog: %v\n", err)
	}
}

// writeFile opens, appends, and closes the configured log file on every
// call, so that external log rotation is observed without this process
// having to be signaled.
func (l *Logger) writeFile(prefix, message string) {
	f, err := os.OpenFile(l.cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "core: cannot open logfile [%s]!\n", l.cfg.LogFile)
		os.Exit(1)
	}
	defer f.Close()

	entry := logrus.NewEntry(l.file)
	entry.Time = time.Now()
	entry.Message = message
	entry.Data = logrus.Fields{"prefix": prefix}
	b, ferr := l.file.Formatter.Format(entry)
	if ferr != nil {
		return
	}
	if _, werr := f.Write(b); werr != nil {
		// Sink failure other than open is swallowed: the process must not
		// die because a later write failed (disk full, file removed
		// underneath us, etc.). Only the open path is fatal.
		fmt.Fprintf(os.Stderr, "core: error writing to logfile [%s]: %v\n", l.cfg.LogFile, werr)
	}
}
