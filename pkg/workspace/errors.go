package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	ErrorInvalidPath      = "invalid_path"
	ErrorOutsideRoots     = "outside_roots"
	ErrorPathNotFound     = "path_not_found"
	ErrorNotDirectory     = "not_directory"
	ErrorPermissionDenied = "permission_denied"
	ErrorNotText          = "not_text"
	ErrorIO               = "io_error"
)

// Error represents a stable, categorized file operation failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// NewError creates a categorized error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	if errors.Is(err, fs.ErrNotExist) {
		return ErrorPathNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrorPermissionDenied
	}

	return ErrorIO
}

// NormalizeIOError converts OS-level errors into stable category errors.
func NormalizeIOError(err error, detail string) error {
	if err == nil {
		return nil
	}

	category := CategoryFromError(err)
	if detail == "" {
		detail = err.Error()
	}

	// Keep os.PathError context out of user-visible text by default.
	if category == ErrorPathNotFound {
		return NewError(category, "path does not exist")
	}
	if category == ErrorPermissionDenied {
		return NewError(category, "operation not permitted")
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return NewError(category, pathErr.Err.Error())
	}

	return NewError(category, detail)
}

// Message turns an error into a sentence fit for a spoken reply.
func Message(err error) string {
	switch CategoryFromError(err) {
	case "":
		return ""
	case ErrorOutsideRoots:
		return "That location is outside the folders I'm allowed to use."
	case ErrorPathNotFound:
		return "I couldn't find that file or folder."
	case ErrorNotDirectory:
		return "That isn't a folder."
	case ErrorPermissionDenied:
		return "I don't have permission to do that."
	case ErrorNotText:
		return "That file isn't a text file, so I can't read it out."
	case ErrorInvalidPath:
		return "I didn't catch which file or folder you meant."
	default:
		return "Something went wrong while working with your files."
	}
}
