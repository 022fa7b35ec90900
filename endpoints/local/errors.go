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

package local

import (
	"fmt"

	"github.com/google/uuid"
)

// indicates that no transfer task with the given ID exists
type TaskNotFoundError struct {
	Id uuid.UUID
}

func (e TaskNotFoundError) Error() string {
	return fmt.Sprintf("transfer %s not found", e.Id.String())
}

// indicates that a directory was submitted for a non-recursive transfer
type NotRecursiveError struct {
	Path string
}

func (e NotRecursiveError) Error() string {
	return fmt.Sprintf("%s is a directory and can only be transferred recursively", e.Path)
}

// indicates an attempt to delete a path outside an endpoint's root
type OutsideRootError struct {
	Path, Root string
}

func (e OutsideRootError) Error() string {
	return fmt.Sprintf("%s is not under the endpoint root %s", e.Path, e.Root)
}
