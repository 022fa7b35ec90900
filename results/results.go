// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package results defines the outcome type returned at every hop boundary
// (transfers, remote compute runs), so callers can branch on the kind of
// failure instead of reading logs.
package results

import (
	"fmt"
)

// Kind classifies the outcome of a submit-and-poll operation.
type Kind int

const (
	None       Kind = iota // success
	Submission             // the request was rejected or could not be sent
	Timeout                // no terminal state was reached before the deadline
	Failed                 // the remote service reported a terminal failure
	Canceled               // the caller's context was canceled
	Integrity              // an expected remote object was missing
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Submission:
		return "submission"
	case Timeout:
		return "timeout"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	case Integrity:
		return "integrity"
	}
	return "unknown"
}

// Result records whether an operation succeeded and, if not, why.
type Result struct {
	Success bool
	Kind    Kind
	Message string
}

// Ok returns a successful result.
func Ok() Result {
	return Result{Success: true, Kind: None}
}

// Fail returns a failed result of the given kind.
func Fail(kind Kind, format string, args ...any) Result {
	return Result{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Err converts a failed result into an error (nil on success).
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Message}
}

// Error is the error form of a failed Result.
type Error struct {
	Kind    Kind
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s failure: %s", e.Kind, e.Message)
}
