// Copyright 2022 Google Inc. All Rights Reserved.
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

// Package https implements callable and raw HTTPS functions: the callable wire protocol, its
// error taxonomy and the verification of the tokens that accompany each call.
package https

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// FunctionsErrorCode is one of the canonical error codes a callable function can return to its
// caller.
type FunctionsErrorCode string

// Canonical error codes, mirroring google.rpc.Code.
const (
	OK                 FunctionsErrorCode = "ok"
	Cancelled          FunctionsErrorCode = "cancelled"
	Unknown            FunctionsErrorCode = "unknown"
	InvalidArgument    FunctionsErrorCode = "invalid-argument"
	DeadlineExceeded   FunctionsErrorCode = "deadline-exceeded"
	NotFound           FunctionsErrorCode = "not-found"
	AlreadyExists      FunctionsErrorCode = "already-exists"
	PermissionDenied   FunctionsErrorCode = "permission-denied"
	ResourceExhausted  FunctionsErrorCode = "resource-exhausted"
	FailedPrecondition FunctionsErrorCode = "failed-precondition"
	Aborted            FunctionsErrorCode = "aborted"
	OutOfRange         FunctionsErrorCode = "out-of-range"
	Unimplemented      FunctionsErrorCode = "unimplemented"
	Internal           FunctionsErrorCode = "internal"
	Unavailable        FunctionsErrorCode = "unavailable"
	DataLoss           FunctionsErrorCode = "data-loss"
	Unauthenticated    FunctionsErrorCode = "unauthenticated"
)

type codeInfo struct {
	canonicalName string
	status        int
}

var errorCodes = map[FunctionsErrorCode]codeInfo{
	OK:                 {"OK", http.StatusOK},
	Cancelled:          {"CANCELLED", 499},
	Unknown:            {"UNKNOWN", http.StatusInternalServerError},
	InvalidArgument:    {"INVALID_ARGUMENT", http.StatusBadRequest},
	DeadlineExceeded:   {"DEADLINE_EXCEEDED", http.StatusGatewayTimeout},
	NotFound:           {"NOT_FOUND", http.StatusNotFound},
	AlreadyExists:      {"ALREADY_EXISTS", http.StatusConflict},
	PermissionDenied:   {"PERMISSION_DENIED", http.StatusForbidden},
	Unauthenticated:    {"UNAUTHENTICATED", http.StatusUnauthorized},
	ResourceExhausted:  {"RESOURCE_EXHAUSTED", http.StatusTooManyRequests},
	FailedPrecondition: {"FAILED_PRECONDITION", http.StatusBadRequest},
	Aborted:            {"ABORTED", http.StatusConflict},
	OutOfRange:         {"OUT_OF_RANGE", http.StatusBadRequest},
	Unimplemented:      {"UNIMPLEMENTED", http.StatusNotImplemented},
	Internal:           {"INTERNAL", http.StatusInternalServerError},
	Unavailable:        {"UNAVAILABLE", http.StatusServiceUnavailable},
	DataLoss:           {"DATA_LOSS", http.StatusInternalServerError},
}

// Valid reports whether c is one of the canonical error codes.
func (c FunctionsErrorCode) Valid() bool {
	_, ok := errorCodes[c]
	return ok
}

// Error is an error returned by a callable function whose code, message and details are sent
// to the caller. Any other error returned by a handler reaches the caller as a generic
// internal error.
type Error struct {
	code    FunctionsErrorCode
	message string
	details interface{}
}

// NewError creates an Error with the given code, message and optional details.
//
// NewError panics if code is not a canonical error code. Use TryNewError for codes that are
// not known at compile time.
func NewError(code FunctionsErrorCode, message string, details ...interface{}) *Error {
	e, err := TryNewError(code, message, details...)
	if err != nil {
		panic(err)
	}
	return e
}

// TryNewError is like NewError, but returns an error for an unknown code.
func TryNewError(code FunctionsErrorCode, message string, details ...interface{}) (*Error, error) {
	if !code.Valid() {
		return nil, fmt.Errorf("unknown error code: %s", code)
	}
	e := &Error{code: code, message: message}
	if len(details) > 0 {
		e.details = details[0]
	}
	return e, nil
}

func (e *Error) Error() string {
	return e.message
}

// Code returns the canonical error code.
func (e *Error) Code() FunctionsErrorCode {
	return e.code
}

// Message returns the message sent to the caller.
func (e *Error) Message() string {
	return e.message
}

// Details returns the details sent to the caller, or nil when there are none.
func (e *Error) Details() interface{} {
	return e.details
}

// Status returns the canonical upper-case name of the error code, such as NOT_FOUND.
func (e *Error) Status() string {
	return errorCodes[e.code].canonicalName
}

// HTTPStatus returns the HTTP status code the error is reported with.
func (e *Error) HTTPStatus() int {
	return errorCodes[e.code].status
}

type errorJSON struct {
	Details interface{} `json:"details,omitempty"`
	Message string      `json:"message"`
	Status  string      `json:"status"`
}

// ToJSON returns the wire representation of the error. The details key is only present when
// the error carries details.
func (e *Error) ToJSON() map[string]interface{} {
	m := map[string]interface{}{
		"message": e.message,
		"status":  e.Status(),
	}
	if e.details != nil {
		m["details"] = e.details
	}
	return m
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(&errorJSON{
		Details: e.details,
		Message: e.message,
		Status:  e.Status(),
	})
}
