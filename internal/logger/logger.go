package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents logging severity using slog levels
type Level slog.Level

const (
	DebugLevel Level = Level(slog.LevelDebug)
	InfoLevel  Level = Level(slog.LevelInfo)
	WarnLevel  Level = Level(slog.LevelWarn)
	ErrorLevel Level = Level(slog.LevelError)
	FatalLevel Level = Level(slog.LevelError + 4) // Custom level above ERROR
)

const defaultFilenamePattern = "weathercast-YYYYMMDD.log"

// Config mirrors the [logging] section of the application config
type Config struct {
	Enabled         bool   `toml:"enabled"`
	Directory       string `toml:"directory"`
	FilenamePattern string `toml:"filename_pattern"`
	Level           string `toml:"level"`
	MaxFiles        int    `toml:"max_files"`
	MaxSizeMB       int    `toml:"max_size_mb"`
	ConsoleOutput   bool   `toml:"console_output"`
}

// EnhancedLogger wraps slog.Logger with file output, size/date rotation and a mutable level
type EnhancedLogger struct {
	*slog.Logger
	config      Config
	level       *slog.LevelVar
	file        *os.File
	fileName    string
	fileSize    int64
	mu          sync.Mutex
	multiWriter io.Writer
}

var (
	globalLogger *EnhancedLogger
	globalMu     sync.Mutex
)

// Initialize replaces the global logger with one built from config
func Initialize(config Config) error {
	l, err := NewEnhancedLogger(config)
	if err != nil {
		return err
	}

	globalMu.Lock()
	previous := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// Get returns the global logger instance, creating a fallback console logger if not initialized
func Get() *EnhancedLogger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		level := new(slog.LevelVar)
		globalLogger = &EnhancedLogger{
			Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr})),
			level:  level,
		}
	}
	return globalLogger
}

// NewEnhancedLogger creates a new enhanced logger with the given configuration
func NewEnhancedLogger(config Config) (*EnhancedLogger, error) {
	if config.Enabled && config.FilenamePattern != "" {
		if err := ValidateFilenamePattern(config.FilenamePattern); err != nil {
			return nil, fmt.Errorf("invalid filename pattern: %w", err)
		}
	}

	l := &EnhancedLogger{
		config: config,
		level:  new(slog.LevelVar),
	}
	l.level.Set(parseLogLevel(config.Level))

	if config.Enabled {
		if err := os.MkdirAll(expandLogDirectory(config.Directory), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := l.openLogFileUnsafe()
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
	}
	l.multiWriter = l.buildWriter()

	// The handler writes through l so every record passes the rotation check.
	l.Logger = slog.New(slog.NewTextHandler(l, &slog.HandlerOptions{
		Level:       l.level,
		ReplaceAttr: replaceAttr,
	}))

	l.Debug("Logger initialized",
		slog.String("log_file", l.fileName),
		slog.String("level", l.level.Level().String()),
		slog.Bool("console", config.ConsoleOutput))

	return l, nil
}

// replaceAttr formats time and source, and strips credentials from every
// string or error value, including the message.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		if len(groups) == 0 {
			return slog.String(slog.TimeKey, a.Value.Time().Format("2006-01-02T15:04:05.000-07:00"))
		}
	case slog.SourceKey:
		if source, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(source.File), source.Line))
		}
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if redacted := RedactSecrets(a.Value.String()); redacted != a.Value.String() {
			return slog.String(a.Key, redacted)
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, RedactSecrets(err.Error()))
		}
	}
	return a
}

// buildWriter assembles the console and file writers (caller must hold mutex)
func (l *EnhancedLogger) buildWriter() io.Writer {
	writers := []io.Writer{}
	if l.config.ConsoleOutput {
		writers = append(writers, os.Stdout)
	}
	if l.file != nil {
		writers = append(writers, l.file)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	return io.MultiWriter(writers...)
}

// openLogFileUnsafe creates or opens the current log file (caller must hold mutex)
func (l *EnhancedLogger) openLogFileUnsafe() (*os.File, error) {
	filePath := filepath.Join(expandLogDirectory(l.config.Directory), generateLogFilename(l.config.FilenamePattern))

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	l.fileName = filePath
	l.fileSize = info.Size()
	return file, nil
}

// expandLogDirectory resolves the configured directory, defaulting to ./logs
func expandLogDirectory(dir string) string {
	if dir == "" {
		return "logs"
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, dir[2:])
		}
	}
	return dir
}

// generateLogFilename expands YYYY, YY, MM, DD and HH tokens in pattern using the current time
func generateLogFilename(pattern string) string {
	if pattern == "" {
		pattern = defaultFilenamePattern
	}

	now := time.Now()
	return strings.NewReplacer(
		"YYYY", fmt.Sprintf("%04d", now.Year()),
		"YY", fmt.Sprintf("%02d", now.Year()%100),
		"MM", fmt.Sprintf("%02d", now.Month()),
		"DD", fmt.Sprintf("%02d", now.Day()),
		"HH", fmt.Sprintf("%02d", now.Hour()),
	).Replace(pattern)
}

// filenameGlob turns a filename pattern into a glob matching every dated variant
func filenameGlob(pattern string) string {
	if pattern == "" {
		pattern = defaultFilenamePattern
	}
	return strings.NewReplacer("YYYY", "*", "YY", "*", "MM", "*", "DD", "*", "HH", "*").Replace(pattern)
}

// parseLogLevel converts string level to slog.Level, defaulting to info
func parseLogLevel(level string) slog.Level {
	parsed, err := ParseLevel(level)
	if err != nil || parsed == FatalLevel {
		return slog.LevelInfo
	}
	return slog.Level(parsed)
}

// checkRotationUnsafe rotates on size or date change (caller must hold mutex)
func (l *EnhancedLogger) checkRotationUnsafe() error {
	if l.file == nil || !l.config.Enabled {
		return nil
	}

	maxSize := int64(l.config.MaxSizeMB) * 1024 * 1024
	if maxSize > 0 && l.fileSize >= maxSize {
		return l.rotateUnsafe()
	}

	if filepath.Base(l.fileName) != generateLogFilename(l.config.FilenamePattern) {
		return l.rotateUnsafe()
	}

	return nil
}

// rotateUnsafe archives the current file and opens a fresh one (caller must hold mutex)
func (l *EnhancedLogger) rotateUnsafe() error {
	if l.file != nil {
		l.file.Close()
	}

	if l.fileName != "" {
		if info, err := os.Stat(l.fileName); err == nil && info.Size() > 0 {
			ext := filepath.Ext(l.fileName)
			archived := fmt.Sprintf("%s-%s%s", strings.TrimSuffix(l.fileName, ext), time.Now().Format("20060102-150405.000"), ext)
			if err := os.Rename(l.fileName, archived); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to archive log file: %v\n", err)
			}
		}
	}

	file, err := l.openLogFileUnsafe()
	if err != nil {
		l.file = nil
		l.multiWriter = l.buildWriter()
		return err
	}
	l.file = file
	l.multiWriter = l.buildWriter()

	if l.config.MaxFiles > 0 {
		go l.cleanOldFiles()
	}
	return nil
}

// cleanOldFiles keeps the newest MaxFiles log files and removes the rest
func (l *EnhancedLogger) cleanOldFiles() {
	l.mu.Lock()
	dir := filepath.Dir(l.fileName)
	maxFiles := l.config.MaxFiles
	pattern := filenameGlob(l.config.FilenamePattern)
	l.mu.Unlock()

	ext := filepath.Ext(pattern)
	matches, err := filepath.Glob(filepath.Join(dir, strings.TrimSuffix(pattern, ext)+"*"+ext))
	if err != nil || maxFiles <= 0 || len(matches) <= maxFiles {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	files := make([]fileInfo, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: match, modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	for i := maxFiles; i < len(files); i++ {
		os.Remove(files[i].path)
	}
}

// Write implements io.Writer with a rotation check after each record
func (l *EnhancedLogger) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err = l.multiWriter.Write(p)
	if err != nil {
		return
	}

	l.fileSize += int64(n)

	if err := l.checkRotationUnsafe(); err != nil {
		fmt.Fprintf(os.Stderr, "Log rotation error: %v\n", err)
	}
	return
}

// Close closes the log file
func (l *EnhancedLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.multiWriter = l.buildWriter()
		return err
	}
	return nil
}

// FileName returns the path of the active log file, or "" when logging to console only
func (l *EnhancedLogger) FileName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileName
}

// SetLevel changes the minimum level of the global logger
func SetLevel(level Level) {
	l := Get()
	if l.level == nil {
		return
	}
	if level == FatalLevel {
		level = ErrorLevel
	}
	l.level.Set(slog.Level(level))
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	Get().Debug(fmt.Sprintf(format, args...))
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	Get().Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	Get().Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	Get().Error(fmt.Sprintf(format, args...))
}

// Fatal logs a fatal message and exits
func Fatal(format string, args ...interface{}) {
	Get().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// secretParams are query parameters whose values never reach the log
var secretParams = []string{"appid", "api_key", "apikey", "key", "token"}

// secretPattern finds credential parameters inside free text such as error
// messages that embed a request URL. Values end at '&', whitespace or a quote.
var secretPattern = regexp.MustCompile(`(?i)\b(appid|api_key|apikey|key|token)=([^&\s"'\\]+)`)

// MaskSecret shows the first nine characters of a secret followed by "...".
// Secrets of nine characters or fewer are fully hidden.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 9 {
		return "***"
	}
	return secret[:9] + "..."
}

// RedactURL masks credential query parameters in rawURL
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}

	query := u.Query()
	changed := false
	for _, param := range secretParams {
		if v := query.Get(param); v != "" {
			query.Set(param, MaskSecret(v))
			changed = true
		}
	}
	if !changed {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}

// RedactSecrets masks credential parameters wherever they appear in text
func RedactSecrets(text string) string {
	if !strings.Contains(text, "=") {
		return text
	}
	return secretPattern.ReplaceAllStringFunc(text, func(match string) string {
		name, value, _ := strings.Cut(match, "=")
		return name + "=" + MaskSecret(value)
	})
}

// LogAPIRequest logs the start of an outbound API request
func LogAPIRequest(method, rawURL string, headers map[string]string) {
	fields := []any{
		"method", method,
		"url", RedactURL(rawURL),
		"type", "api_request",
	}

	if userAgent := headers["User-Agent"]; userAgent != "" {
		fields = append(fields, "user_agent", userAgent)
	}

	Get().LogAttrs(context.Background(), slog.LevelDebug, "API request started", slog.Group("request", fields...))
}

// LogAPIResponse logs an API response, escalating the level for 4xx and 5xx
func LogAPIResponse(method, rawURL string, statusCode int, duration time.Duration, bodySize int) {
	level := slog.LevelInfo
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}

	Get().LogAttrs(context.Background(), level, "API request completed",
		slog.Group("request",
			"method", method,
			"url", RedactURL(rawURL),
			"status_code", statusCode,
			"duration", duration.String(),
			"body_size", bodySize,
			"type", "api_response",
		),
	)
}

// LogOperationStart logs the beginning of an operation and returns a completion function
func LogOperationStart(operation string, details map[string]any) func(error) {
	startTime := time.Now()

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("type", "operation_start"),
	}
	if len(details) > 0 {
		attrs = append(attrs, slog.Group("details", mapToArgs(details)...))
	}

	Get().LogAttrs(context.Background(), slog.LevelDebug, "Operation started", attrs...)

	return func(err error) {
		level := slog.LevelInfo
		message := "Operation completed"

		completionAttrs := []slog.Attr{
			slog.String("operation", operation),
			slog.String("type", "operation_complete"),
			slog.Duration("duration", time.Since(startTime)),
			slog.Bool("success", err == nil),
		}

		if err != nil {
			level = slog.LevelError
			message = "Operation failed"
			completionAttrs = append(completionAttrs, slog.String("error", err.Error()))
		}

		Get().LogAttrs(context.Background(), level, message, completionAttrs...)
	}
}

// LogStructuredError logs an error with its call site and context fields
func LogStructuredError(err error, ctxFields map[string]any) {
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("type", "structured_error"),
	}

	if _, file, line, ok := runtime.Caller(1); ok {
		attrs = append(attrs, slog.String("source", fmt.Sprintf("%s:%d", filepath.Base(file), line)))
	}

	if len(ctxFields) > 0 {
		attrs = append(attrs, slog.Group("context", mapToArgs(ctxFields)...))
	}

	Get().LogAttrs(context.Background(), slog.LevelError, "Error occurred", attrs...)
}

// mapToArgs flattens fields into sorted key/value pairs so log lines are stable
func mapToArgs(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

// ParseLevel converts a string to a log level
func ParseLevel(levelStr string) (Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}
