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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/endpoints"
)

type xferRecord struct {
	Status   endpoints.TransferStatus
	Canceled bool
}

// Service implements endpoints.TransferService on a local file system.
// Endpoint roots are directories, so every absolute endpoint path is also a
// file system path. It's used for development and testing.
type Service struct {
	mu    sync.Mutex
	xfers map[uuid.UUID]xferRecord
}

// NewService creates a local transfer service.
func NewService() *Service {
	return &Service{
		xfers: make(map[uuid.UUID]xferRecord),
	}
}

func (s *Service) setRecord(id uuid.UUID, update func(*xferRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	xfer := s.xfers[id]
	update(&xfer)
	s.xfers[id] = xfer
}

func (s *Service) canceled(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xfers[id].Canceled
}

// returns the source files to copy (pairs of source and destination paths)
func transferPairs(request endpoints.TransferRequest) ([][2]string, error) {
	info, err := os.Stat(request.SourcePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return [][2]string{{request.SourcePath, request.DestinationPath}}, nil
	}
	if !request.Recursive {
		return nil, &NotRecursiveError{Path: request.SourcePath}
	}
	pairs := make([][2]string, 0)
	err = filepath.WalkDir(request.SourcePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(request.SourcePath, p)
		if err != nil {
			return err
		}
		pairs = append(pairs, [2]string{p, filepath.Join(request.DestinationPath, rel)})
		return nil
	})
	return pairs, err
}

// implements asynchronous local file transfers
func (s *Service) transferFiles(id uuid.UUID, pairs [][2]string) {
	var err error
	for _, pair := range pairs {
		// has the transfer been canceled?
		if s.canceled(id) {
			break
		}
		if err = copyFile(pair[0], pair[1]); err != nil {
			break
		}
		s.setRecord(id, func(xfer *xferRecord) {
			xfer.Status.NumFilesTransferred++
		})
	}
	s.setRecord(id, func(xfer *xferRecord) {
		if err != nil { // trouble!
			xfer.Status.Code = endpoints.TransferStatusFailed
			xfer.Status.Message = err.Error()
		} else if xfer.Canceled {
			xfer.Status.Code = endpoints.TransferStatusFailed
			xfer.Status.Message = "canceled"
		} else { // all's well
			xfer.Status.Code = endpoints.TransferStatusSucceeded
		}
	})
}

// copies a file into place, creating the destination directory if needed
// and preserving the modification time
func copyFile(sourcePath, destPath string) error {
	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	sourceDirInfo, err := os.Stat(filepath.Dir(sourcePath))
	if err != nil {
		return err
	}
	destDir := filepath.Dir(destPath)
	if _, err := os.Stat(destDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(destDir, sourceDirInfo.Mode().Perm()|0700); err != nil {
			return err
		}
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()
	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return err
	}
	if err := dest.Close(); err != nil {
		return err
	}
	return os.Chtimes(destPath, sourceInfo.ModTime(), sourceInfo.ModTime())
}

func (s *Service) Submit(ctx context.Context, request endpoints.TransferRequest) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	pairs, err := transferPairs(request)
	if err != nil {
		return uuid.Nil, err
	}

	// assign a UUID to the transfer and set it going
	id := uuid.New()
	s.setRecord(id, func(xfer *xferRecord) {
		xfer.Status = endpoints.TransferStatus{
			Code:     endpoints.TransferStatusActive,
			NumFiles: len(pairs),
		}
	})
	go s.transferFiles(id, pairs)
	return id, nil
}

func (s *Service) Status(ctx context.Context, id uuid.UUID) (endpoints.TransferStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if xfer, found := s.xfers[id]; found {
		return xfer.Status, nil
	}
	return endpoints.TransferStatus{
		Code: endpoints.TransferStatusUnknown,
	}, &TaskNotFoundError{Id: id}
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	xfer, found := s.xfers[id]
	if !found {
		return &TaskNotFoundError{Id: id}
	}
	xfer.Canceled = true
	s.xfers[id] = xfer
	return nil
}

func fileObject(p string, info fs.FileInfo) endpoints.FileObject {
	return endpoints.FileObject{
		Name:         info.Name(),
		Path:         p,
		IsDir:        info.IsDir(),
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}
}

func (s *Service) ListFiles(ctx context.Context, endpoint endpoints.Endpoint,
	dir string, olderThanDays int) ([]string, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if olderThanDays <= 0 || !info.ModTime().After(cutoff) {
			files = append(files, filepath.ToSlash(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Service) ListDirectory(ctx context.Context, endpoint endpoints.Endpoint,
	dir string) ([]endpoints.FileObject, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	objects := make([]endpoints.FileObject, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		objects = append(objects, fileObject(filepath.ToSlash(filepath.Join(dir, entry.Name())), info))
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

func (s *Service) FileObject(ctx context.Context, endpoint endpoints.Endpoint,
	p string) (endpoints.FileObject, bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return endpoints.FileObject{}, false, nil
		}
		return endpoints.FileObject{}, false, err
	}
	return fileObject(strings.TrimRight(filepath.ToSlash(p), "/"), info), true, nil
}

// deletes the given paths synchronously and returns the ID of a completed
// task
func (s *Service) Delete(ctx context.Context, endpoint endpoints.Endpoint,
	paths []string) (uuid.UUID, error) {
	for _, p := range paths {
		if !strings.HasPrefix(p, strings.TrimRight(endpoint.Root, "/")+"/") {
			return uuid.Nil, &OutsideRootError{Path: p, Root: endpoint.Root}
		}
	}
	id := uuid.New()
	var err error
	for _, p := range paths {
		if err = os.RemoveAll(p); err != nil {
			break
		}
	}
	s.setRecord(id, func(xfer *xferRecord) {
		xfer.Status.NumFiles = len(paths)
		if err != nil {
			xfer.Status.Code = endpoints.TransferStatusFailed
			xfer.Status.Message = err.Error()
		} else {
			xfer.Status.Code = endpoints.TransferStatusSucceeded
			xfer.Status.NumFilesTransferred = len(paths)
		}
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("deleting from %s: %w", endpoint.Name, err)
	}
	return id, nil
}
