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

package journal

import (
	"fmt"

	"github.com/google/uuid"
)

// indicates that the journal is not open and cannot respond to the given request
type NotOpenError struct {
}

func (e NotOpenError) Error() string {
	return "The journal is not open for reading or writing."
}

// indicates that the journal database couldn't be opened
type CantOpenError struct {
	Message string
}

func (e CantOpenError) Error() string {
	return fmt.Sprintf("Couldn't open the journal: %s", e.Message)
}

// indicates that the journal database couldn't be closed
type CantCloseError struct {
	Message string
}

func (e CantCloseError) Error() string {
	return fmt.Sprintf("Couldn't close the journal: %s", e.Message)
}

// indicates that there's no record with the given token in the journal
type RecordNotFoundError struct {
	Token uuid.UUID
}

func (e RecordNotFoundError) Error() string {
	return fmt.Sprintf("No record was found with token %s", e.Token.String())
}

// indicates that a new record could not be created
type NewRecordError struct {
	Token   uuid.UUID
	Message string
}

func (e NewRecordError) Error() string {
	return fmt.Sprintf("Could not create a new record with token %s: %s", e.Token.String(), e.Message)
}

// indicates that a stored record could not be read
type InvalidRecordError struct {
	Token   uuid.UUID
	Message string
}

func (e InvalidRecordError) Error() string {
	return fmt.Sprintf("Invalid record with token %s: %s", e.Token.String(), e.Message)
}
