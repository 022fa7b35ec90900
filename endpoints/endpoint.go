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

package endpoints

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// Endpoint is a named storage location with a root directory. Endpoints are
// immutable and passed by value.
type Endpoint struct {
	// descriptive endpoint name (obtained from config)
	Name string
	// endpoint (collection) UUID
	Id uuid.UUID
	// root directory for all tier-relative paths
	Root string
}

// FullPath joins the endpoint's root and the given relative path. Leading
// separators and ".." segments that would climb above the root are removed
// first, so the result always lies under the root.
func (ep Endpoint) FullPath(relativePath string) string {
	rel := strings.TrimPrefix(path.Clean("/"+NormalizePath(relativePath)), "/")
	if rel == "" {
		return ep.Root
	}
	full := path.Join(ep.Root, rel)
	if strings.HasSuffix(relativePath, "/") {
		full += "/" // preserve directory markers
	}
	return full
}

// RelativePath returns the remainder of an absolute path on this endpoint
// after its root, and false if the path does not lie under the root.
func (ep Endpoint) RelativePath(absolutePath string) (string, bool) {
	return Suffix(absolutePath, ep.Root)
}

// NormalizePath strips all leading separators from a relative path, so that
// joining it to a root never discards the root.
func NormalizePath(relativePath string) string {
	return strings.TrimLeft(relativePath, "/")
}

// StripPrefix removes a shared leading path component (e.g. "global") from a
// file path, so that every tier sees the same relative root. If the prefix
// doesn't lead the path, the remainder after its first "/<prefix>/"
// occurrence is used; paths without the prefix are only normalized.
func StripPrefix(filePath, prefix string) string {
	prefix = strings.Trim(prefix, "/")
	p := NormalizePath(filePath)
	if prefix == "" {
		return p
	}
	if p == prefix {
		return ""
	}
	if strings.HasPrefix(p, prefix+"/") {
		return NormalizePath(p[len(prefix)+1:])
	}
	if i := strings.Index(p, "/"+prefix+"/"); i >= 0 {
		return NormalizePath(p[i+len(prefix)+2:])
	}
	return p
}

// Suffix returns the remainder of p after the given root directory, without
// a leading separator. It returns false if p does not lie under root.
func Suffix(p, root string) (string, bool) {
	root = strings.TrimRight(root, "/")
	if root == "" {
		return NormalizePath(p), strings.HasPrefix(p, "/")
	}
	if p == root {
		return "", true
	}
	if !strings.HasPrefix(p, root+"/") {
		return "", false
	}
	return NormalizePath(p[len(root):]), true
}
