// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errorutils provides functions for checking the error codes of errors returned by
// callable functions.
package errorutils

import (
	"errors"
	"net/http"

	"github.com/firebase/firebase-functions-go/https"
)

// IsInvalidArgument checks if the given error was due to an invalid client argument.
func IsInvalidArgument(err error) bool {
	return hasCode(err, https.InvalidArgument)
}

// IsFailedPrecondition checks if the given error was because a request could not be executed
// in the current system state.
func IsFailedPrecondition(err error) bool {
	return hasCode(err, https.FailedPrecondition)
}

// IsOutOfRange checks if the given error was due to a client specifying an invalid range.
func IsOutOfRange(err error) bool {
	return hasCode(err, https.OutOfRange)
}

// IsUnauthenticated checks if the given error was caused by a missing, invalid or expired
// token.
func IsUnauthenticated(err error) bool {
	return hasCode(err, https.Unauthenticated)
}

// IsPermissionDenied checks if the given error was due to a client not having sufficient
// permissions.
func IsPermissionDenied(err error) bool {
	return hasCode(err, https.PermissionDenied)
}

// IsNotFound checks if the given error was due to a specified resource being not found.
func IsNotFound(err error) bool {
	return hasCode(err, https.NotFound)
}

// IsAlreadyExists checks if the given error was due to a resource that already exists.
func IsAlreadyExists(err error) bool {
	return hasCode(err, https.AlreadyExists)
}

// IsAborted checks if the given error was due to a concurrency conflict.
func IsAborted(err error) bool {
	return hasCode(err, https.Aborted)
}

// IsResourceExhausted checks if the given error was caused by either running out of a quota or
// reaching a rate limit.
func IsResourceExhausted(err error) bool {
	return hasCode(err, https.ResourceExhausted)
}

// IsCancelled checks if the given error was due to the client cancelling a request.
func IsCancelled(err error) bool {
	return hasCode(err, https.Cancelled)
}

// IsDataLoss checks if the given error was due to an unrecoverable data loss or corruption.
func IsDataLoss(err error) bool {
	return hasCode(err, https.DataLoss)
}

// IsUnknown checks if the given error was caused by an unknown server error.
func IsUnknown(err error) bool {
	return hasCode(err, https.Unknown)
}

// IsInternal checks if the given error was due to an internal server error.
func IsInternal(err error) bool {
	return hasCode(err, https.Internal)
}

// IsUnimplemented checks if the given error was due to an operation that is not implemented.
func IsUnimplemented(err error) bool {
	return hasCode(err, https.Unimplemented)
}

// IsUnavailable checks if the given error was caused by an unavailable service.
func IsUnavailable(err error) bool {
	return hasCode(err, https.Unavailable)
}

// IsDeadlineExceeded checks if the given error was due a request exceeding a deadline.
func IsDeadlineExceeded(err error) bool {
	return hasCode(err, https.DeadlineExceeded)
}

// Code returns the callable error code of err, and false when err does not carry one.
func Code(err error) (https.FunctionsErrorCode, bool) {
	var he *https.Error
	if errors.As(err, &he) {
		return he.Code(), true
	}
	return "", false
}

// HTTPStatus returns the HTTP status a callable function reports err with. Errors without a
// callable error code are reported as internal errors.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var he *https.Error
	if errors.As(err, &he) {
		return he.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func hasCode(err error, code https.FunctionsErrorCode) bool {
	c, ok := Code(err)
	return ok && c == code
}
