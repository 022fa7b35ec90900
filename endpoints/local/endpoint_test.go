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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/als-computing/tierflow/endpoints"
)

var tempRoot string
var source endpoints.Endpoint
var destination endpoints.Endpoint

// this function gets called at the begіnning of a test session
func setup() {
	// create source/destination directories
	var err error
	tempRoot, err = os.MkdirTemp(os.TempDir(), "tierflow-local-endpoints")
	if err != nil {
		panic(err)
	}
	source = endpoints.Endpoint{
		Name: "Source Endpoint",
		Id:   uuid.MustParse("2ee69538-10d5-4d1e-a890-1127b5e42003"),
		Root: filepath.Join(tempRoot, "source"),
	}
	destination = endpoints.Endpoint{
		Name: "Destination Endpoint",
		Id:   uuid.MustParse("b925d96e-7e39-473b-a658-714f8c243b1c"),
		Root: filepath.Join(tempRoot, "destination"),
	}
	for _, dir := range []string{source.Root, destination.Root, filepath.Join(source.Root, "run001")} {
		if err = os.MkdirAll(dir, 0700); err != nil {
			panic(err)
		}
	}

	// create source files, the first of which is 40 days old
	old := time.Now().Add(-40 * 24 * time.Hour)
	for i := 1; i <= 3; i++ {
		name := filepath.Join(source.Root, "run001", fmt.Sprintf("file%d.txt", i))
		err = os.WriteFile(name, []byte(fmt.Sprintf("This is the content of file %d.", i)), 0600)
		if err != nil {
			panic(err)
		}
		if i == 1 {
			if err = os.Chtimes(name, old, old); err != nil {
				panic(err)
			}
		}
	}
}

// this function gets called after all tests have been run
func breakdown() {
	os.RemoveAll(tempRoot)
}

// waits for a transfer to reach a terminal state
func waitFor(service *Service, id uuid.UUID) endpoints.TransferStatus {
	for {
		status, err := service.Status(context.Background(), id)
		if err != nil || status.Code.Terminal() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLocalTransfer(t *testing.T) {
	assert := assert.New(t)
	service := NewService()

	id, err := service.Submit(context.Background(), endpoints.TransferRequest{
		Source:          source,
		SourcePath:      source.FullPath("run001/file1.txt"),
		Destination:     destination,
		DestinationPath: destination.FullPath("run001/file1.txt"),
	})
	assert.Nil(err)
	status := waitFor(service, id)
	assert.Equal(endpoints.TransferStatusSucceeded, status.Code)
	assert.Equal(1, status.NumFilesTransferred)

	data, err := os.ReadFile(destination.FullPath("run001/file1.txt"))
	assert.Nil(err)
	assert.Equal("This is the content of file 1.", string(data))

	// modification times survive the copy
	obj, found, err := service.FileObject(context.Background(), destination,
		destination.FullPath("run001/file1.txt"))
	assert.Nil(err)
	assert.True(found)
	assert.True(obj.Age(time.Now()) > 39*24*time.Hour)
}

func TestLocalRecursiveTransfer(t *testing.T) {
	assert := assert.New(t)
	service := NewService()

	request := endpoints.TransferRequest{
		Source:          source,
		SourcePath:      source.FullPath("run001/"),
		Destination:     destination,
		DestinationPath: destination.FullPath("copy/run001/"),
	}
	_, err := service.Submit(context.Background(), request)
	assert.IsType(&NotRecursiveError{}, err)

	request.Recursive = true
	id, err := service.Submit(context.Background(), request)
	assert.Nil(err)
	status := waitFor(service, id)
	assert.Equal(endpoints.TransferStatusSucceeded, status.Code)
	assert.Equal(3, status.NumFiles)
	for i := 1; i <= 3; i++ {
		_, err := os.Stat(destination.FullPath(fmt.Sprintf("copy/run001/file%d.txt", i)))
		assert.Nil(err)
	}
}

func TestBadLocalTransfer(t *testing.T) {
	assert := assert.New(t)
	service := NewService()

	// ask for a nonexistent file
	_, err := service.Submit(context.Background(), endpoints.TransferRequest{
		Source:          source,
		SourcePath:      source.FullPath("run001/file1.txt_with_bad_suffix"),
		Destination:     destination,
		DestinationPath: destination.FullPath("run001/file1.txt_with_bad_suffix"),
	})
	assert.NotNil(err)
}

func TestUnknownLocalStatus(t *testing.T) {
	assert := assert.New(t)
	service := NewService()

	// make up a bogus transfer UUID and check its status
	status, err := service.Status(context.Background(), uuid.New())
	assert.Equal(endpoints.TransferStatusUnknown, status.Code)
	assert.IsType(&TaskNotFoundError{}, err)
	assert.NotNil(service.Cancel(context.Background(), uuid.New()))
}

func TestLocalListing(t *testing.T) {
	assert := assert.New(t)
	service := NewService()

	entries, err := service.ListDirectory(context.Background(), source, source.Root)
	assert.Nil(err)
	assert.Len(entries, 1)
	assert.Equal("run001", entries[0].Name)
	assert.True(entries[0].IsDir)

	files, err := service.ListFiles(context.Background(), source, source.FullPath("run001"), 0)
	assert.Nil(err)
	assert.Len(files, 3)

	files, err = service.ListFiles(context.Background(), source, source.FullPath("run001"), 30)
	assert.Nil(err)
	assert.Equal([]string{filepath.ToSlash(source.FullPath("run001/file1.txt"))}, files)

	_, found, err := service.FileObject(context.Background(), source, source.FullPath("nope.txt"))
	assert.Nil(err)
	assert.False(found)
}

func TestLocalDelete(t *testing.T) {
	assert := assert.New(t)
	service := NewService()

	victim := filepath.Join(destination.Root, "victim.txt")
	assert.Nil(os.WriteFile(victim, []byte("doomed"), 0600))

	// paths outside the root are refused
	_, err := service.Delete(context.Background(), destination, []string{filepath.Join(source.Root, "run001")})
	assert.IsType(&OutsideRootError{}, err)

	id, err := service.Delete(context.Background(), destination, []string{victim})
	assert.Nil(err)
	status, err := service.Status(context.Background(), id)
	assert.Nil(err)
	assert.Equal(endpoints.TransferStatusSucceeded, status.Code)
	_, err = os.Stat(victim)
	assert.True(os.IsNotExist(err))
}

// this runs setup, runs all tests, and does breakdown
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
