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

package config

import (
	"time"

	"github.com/google/uuid"
)

// a storage location reachable through the transfer service
type EndpointConfig struct {
	// a descriptive name for the endpoint (defaults to its key)
	Name string `yaml:"name"`
	// endpoint (collection) UUID
	Id uuid.UUID `yaml:"id"`
	// root directory under which all tier-relative paths live
	Root string `yaml:"root"`
}

// maps the logical tiers to endpoint names
type TierConfig struct {
	Acquisition string `yaml:"acquisition"`
	Staging     string `yaml:"staging"`
	Archive     string `yaml:"archive"`
	Compute     string `yaml:"compute"`
}

// parameters for transfer submission and polling
type TransferConfig struct {
	// "globus" or "local"
	Provider string `yaml:"provider"`
	// ceiling on the time a single hop may take
	MaxWait time.Duration `yaml:"max_wait"`
	// interval between status queries
	PollInterval time.Duration `yaml:"poll_interval"`
	// label attached to submitted transfer tasks
	Label string `yaml:"label"`
	// Globus sync level (0-3)
	SyncLevel int `yaml:"sync_level"`
	// verify checksums after transfer
	VerifyChecksum bool `yaml:"verify_checksum"`
}
