package attendanceerrors

import (
	"net/http"

	"go-attendance/internal/shared/apperror"
)

var (
	ErrUnauthenticated = apperror.New(
		apperror.CodeUnauthorized,
		"caller identity is missing or invalid",
		http.StatusUnauthorized,
	)
	ErrForbidden = apperror.New(
		apperror.CodeForbidden,
		"you are not allowed to access this attendance record",
		http.StatusForbidden,
	)
	ErrRecordNotFound = apperror.New(
		apperror.CodeNotFound,
		"attendance record not found",
		http.StatusNotFound,
	)
	ErrDuplicateRecord = apperror.New(
		apperror.CodeConflict,
		"attendance record already exists for this user and date",
		http.StatusConflict,
	)
	ErrAlreadyVerified = apperror.New(
		apperror.CodeConflict,
		"attendance record is not awaiting verification",
		http.StatusConflict,
	)
	ErrSessionAlreadyOpen = apperror.New(
		apperror.CodeConflict,
		"a session is already open, check out first",
		http.StatusConflict,
	)
	ErrNoOpenSession = apperror.New(
		apperror.CodeConflict,
		"there is no open session to check out",
		http.StatusConflict,
	)
	ErrInvalidTime = apperror.New(
		apperror.CodeInvalidInput,
		"invalid time, expected HH:MM",
		http.StatusBadRequest,
	)
	ErrInvalidDate = apperror.New(
		apperror.CodeInvalidInput,
		"invalid date format, expected YYYY-MM-DD",
		http.StatusBadRequest,
	)
	ErrInvalidDateRange = apperror.New(
		apperror.CodeInvalidInput,
		"from must be before or equal to, and span at most 92 days",
		http.StatusBadRequest,
	)
	ErrInvalidAction = apperror.New(
		apperror.CodeInvalidInput,
		"action must be approve or reject",
		http.StatusBadRequest,
	)
	ErrInvalidStatus = apperror.New(
		apperror.CodeInvalidInput,
		"invalid status filter",
		http.StatusBadRequest,
	)
	ErrInvalidUserID = apperror.New(
		apperror.CodeInvalidInput,
		"invalid user id",
		http.StatusBadRequest,
	)
	ErrInvalidRecordID = apperror.New(
		apperror.CodeInvalidInput,
		"invalid attendance record id",
		http.StatusBadRequest,
	)
	ErrInvalidReviewer = apperror.New(
		apperror.CodeInvalidInput,
		"invalid reviewer id",
		http.StatusBadRequest,
	)
	ErrInvalidStatsWindow = apperror.New(
		apperror.CodeInvalidInput,
		"days must be between 1 and 31 and top between 1 and 50",
		http.StatusBadRequest,
	)
)
