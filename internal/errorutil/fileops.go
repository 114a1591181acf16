package errorutil

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// FileError represents a file operation error with additional context
type FileError struct {
	Operation  string // The operation that failed (e.g., "read", "write_temp", "rename")
	Path       string // The file path that was being accessed
	Underlying error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s operation failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

func (e *FileError) Unwrap() error {
	return e.Underlying
}

// NewFileError creates a new FileError
func NewFileError(operation, path string, err error) *FileError {
	return &FileError{
		Operation:  operation,
		Path:       path,
		Underlying: err,
	}
}

// LogFileError logs a file error with structured context and returns it
func LogFileError(logger *slog.Logger, fileErr *FileError) *FileError {
	if logger == nil {
		return fileErr
	}

	logger.Error("File operation failed",
		slog.String("operation", fileErr.Operation),
		slog.String("file_path", fileErr.Path),
		slog.String("error", fileErr.Underlying.Error()),
		slog.String("error_type", FileErrorType(fileErr.Underlying)),
	)
	return fileErr
}

// FileErrorType returns a short classification of a filesystem error
func FileErrorType(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, fs.ErrNotExist):
		return "file_not_found"
	case errors.Is(err, fs.ErrPermission):
		return "permission_denied"
	case errors.Is(err, fs.ErrExist):
		return "file_exists"
	case errors.Is(err, syscall.ENOSPC):
		return "no_space_left"
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return "path_error_" + pathErr.Op
	}

	return "generic_file_error"
}

// WriteFileAtomic writes data to a temp file beside path and renames it into place,
// so readers never observe a partially written file.
func WriteFileAtomic(logger *slog.Logger, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return LogFileError(logger, NewFileError("mkdir", dir, err))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return LogFileError(logger, NewFileError("create_temp", path, err))
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return LogFileError(logger, NewFileError("write_temp", tempPath, err))
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return LogFileError(logger, NewFileError("chmod", tempPath, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return LogFileError(logger, NewFileError("close_temp", tempPath, err))
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return LogFileError(logger, NewFileError("rename", path, err))
	}

	if logger != nil {
		logger.Debug("File written successfully",
			slog.String("file_path", path),
			slog.Int("bytes_written", len(data)))
	}
	return nil
}
