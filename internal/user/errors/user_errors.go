package usererrors

import (
	"net/http"

	"go-attendance/internal/shared/apperror"
)

var ErrDirectoryUnavailable = apperror.New(
	apperror.CodeServiceUnavailable,
	"user directory is unavailable",
	http.StatusServiceUnavailable,
)
