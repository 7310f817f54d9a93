// Copyright 2024 The Gaia Authors
// This file is part of Gaia.
//
// Gaia is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gaia is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Gaia. If not, see <http://www.gnu.org/licenses/>.

package gaia

import "github.com/pkg/errors"

// Status is the fixed error-code taxonomy carried in every RPC response's
// status field (§6) and returned by every cursor/transaction operation
// (§7). The assignment is fixed: callers may switch on the numeric value.
type Status int32

const (
	StatusOK               Status = 0
	StatusGeneric          Status = -1
	StatusTooOld           Status = -2 // version below the log horizon
	StatusPendingData      Status = -3 // prepared, not committed
	StatusCorruptedLog     Status = -4
	StatusRPCDeferred      Status = -5 // internal only
	StatusInvalidTid       Status = -6
	StatusClearedTid       Status = -7
	StatusTxEnded          Status = -9
	StatusServerTimeout    Status = -10
	StatusNotImplemented   Status = -11
	StatusOutOfMemory      Status = -12
	StatusCellOutOfRange   Status = -13
	StatusAttrOutOfRange   Status = -14
	StatusWrongType        Status = -99
)

var statusText = map[Status]string{
	StatusOK:             "ok",
	StatusGeneric:        "generic error",
	StatusTooOld:         "version too old (below log horizon)",
	StatusPendingData:    "pending data (prepared, not committed)",
	StatusCorruptedLog:   "corrupted log",
	StatusRPCDeferred:    "rpc deferred",
	StatusInvalidTid:     "invalid transaction id",
	StatusClearedTid:     "cleared transaction id",
	StatusTxEnded:        "transaction ended",
	StatusServerTimeout:  "server timeout",
	StatusNotImplemented: "not implemented",
	StatusOutOfMemory:    "out of memory",
	StatusCellOutOfRange: "cell out of range for coid",
	StatusAttrOutOfRange: "attribute id out of range",
	StatusWrongType:      "wrong type (blob vs supervalue mismatch)",
}

func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return "unknown status"
}

// OK reports whether s is the zero/success status.
func (s Status) OK() bool { return s == StatusOK }

// statusError wraps a Status so it satisfies the error interface while
// still being comparable/switchable as a Status via errors.As.
type statusError struct {
	status Status
	cause  error
}

func (e *statusError) Error() string {
	if e.cause != nil {
		return e.status.String() + ": " + e.cause.Error()
	}
	return e.status.String()
}

func (e *statusError) Unwrap() error { return e.cause }

// NewError builds an error for status, optionally wrapping cause with
// github.com/pkg/errors so callers retain a stack trace at the call site.
func NewError(status Status, cause error) error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &statusError{status: status, cause: cause}
}

// Errorf builds a Status error with a formatted cause message.
func Errorf(status Status, format string, args ...interface{}) error {
	return NewError(status, errors.Errorf(format, args...))
}

// StatusOf extracts the Status carried by err, or StatusGeneric if err does
// not wrap a Status (and StatusOK if err is nil).
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return StatusGeneric
}

// Is reports whether err carries exactly status, for errors.Is-style use:
// errors.Is(err, gaia.NewError(gaia.StatusCellOutOfRange, nil)).
func (e *statusError) Is(target error) bool {
	var se *statusError
	if errors.As(target, &se) {
		return se.status == e.status
	}
	return false
}
