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

// Package endpoints resolves logical storage tiers to transfer endpoints and
// defines the transfer capability that every tier is reached through.
package endpoints

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransferStatusCode indicates the state of a transfer task.
type TransferStatusCode int

const (
	TransferStatusUnknown   TransferStatusCode = iota // unknown transfer or status not available
	TransferStatusActive                              // transfer in progress
	TransferStatusInactive                            // transfer suspended (e.g. credentials expired)
	TransferStatusSucceeded                           // transfer completed successfully
	TransferStatusFailed                              // transfer failed or was canceled
)

func (c TransferStatusCode) String() string {
	switch c {
	case TransferStatusActive:
		return "ACTIVE"
	case TransferStatusInactive:
		return "INACTIVE"
	case TransferStatusSucceeded:
		return "SUCCEEDED"
	case TransferStatusFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal returns true if no further status changes are expected.
func (c TransferStatusCode) Terminal() bool {
	return c == TransferStatusSucceeded || c == TransferStatusFailed
}

// TransferStatus reports the state of a transfer task.
type TransferStatus struct {
	// status code (see above)
	Code TransferStatusCode
	// a message describing a failure, if any
	Message string
	// total number of files being transferred
	NumFiles int
	// number of files that have been transferred
	NumFilesTransferred int
	// number of files skipped (e.g. already present with matching checksums)
	NumFilesSkipped int
}

// TransferRequest describes a single transfer between two endpoints.
// Paths are absolute (root-joined).
type TransferRequest struct {
	Source          Endpoint
	SourcePath      string
	Destination     Endpoint
	DestinationPath string
	// transfer a directory and its contents
	Recursive bool
	// label attached to the transfer task
	Label string
}

// FileObject holds metadata for a file or directory on an endpoint.
type FileObject struct {
	Name         string
	Path         string
	IsDir        bool
	Size         int64
	LastModified time.Time
}

// Age returns the time elapsed since the object was last modified.
func (o FileObject) Age(now time.Time) time.Duration {
	return now.Sub(o.LastModified)
}

// TransferService is the bulk-transfer capability used to move, list, and
// delete data on endpoints.
type TransferService interface {
	// submits a transfer task, returning its UUID
	Submit(ctx context.Context, request TransferRequest) (uuid.UUID, error)
	// retrieves the status of the transfer task with the given UUID
	Status(ctx context.Context, taskId uuid.UUID) (TransferStatus, error)
	// cancels the transfer task with the given UUID
	Cancel(ctx context.Context, taskId uuid.UUID) error
	// recursively lists the absolute paths of files under the given absolute
	// path that were last modified at least olderThanDays ago (all files if
	// olderThanDays is 0)
	ListFiles(ctx context.Context, endpoint Endpoint, path string, olderThanDays int) ([]string, error)
	// lists the entries of the directory with the given absolute path
	ListDirectory(ctx context.Context, endpoint Endpoint, path string) ([]FileObject, error)
	// fetches metadata for the object at the given absolute path, returning
	// false if no such object exists
	FileObject(ctx context.Context, endpoint Endpoint, path string) (FileObject, bool, error)
	// requests the deletion of the objects at the given absolute paths,
	// returning the UUID of the deletion task
	Delete(ctx context.Context, endpoint Endpoint, paths []string) (uuid.UUID, error)
}
