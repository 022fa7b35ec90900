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

package scheduler

import (
	"fmt"
)

// indicates that a job names a flow with no registered handler
type UnknownFlowError struct {
	Flow string
}

func (e UnknownFlowError) Error() string {
	return fmt.Sprintf("no handler is registered for flow '%s'", e.Flow)
}

// indicates that the job store could not be opened
type StoreError struct {
	Path, Message string
}

func (e StoreError) Error() string {
	return fmt.Sprintf("couldn't open job store %s: %s", e.Path, e.Message)
}

// indicates that a job could not be found by key
type JobNotFoundError struct {
	Key string
}

func (e JobNotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.Key)
}

// indicates that a job parameter is missing
type MissingParameterError struct {
	Name string
}

func (e MissingParameterError) Error() string {
	return fmt.Sprintf("missing job parameter '%s'", e.Name)
}

// indicates that a job parameter has the wrong type
type InvalidParameterError struct {
	Name  string
	Value any
}

func (e InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid job parameter '%s': %v", e.Name, e.Value)
}
