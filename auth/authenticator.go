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

package auth

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fernet/fernet-go"

	"github.com/als-computing/tierflow/config"
)

// This type accepts a valid access token in exchange for a user record. The
// tokens live in a fernet-encrypted file that is maintained by hand, which
// is enough for the handful of acquisition systems that call the API.
type Authenticator struct {
	UserForToken map[string]User
}

// ReadAccessTokenFile decrypts the access file at the given path with the
// given fernet key and returns its users, keyed by access token.
func ReadAccessTokenFile(tokenFilePath, secret string) (map[string]User, error) {
	key, err := fernet.DecodeKey(secret)
	if err != nil {
		return nil, &InvalidSecretError{Message: err.Error()}
	}

	encryptedText, err := os.ReadFile(tokenFilePath)
	if err != nil {
		return nil, err
	}

	// a negative TTL never expires
	plainText := fernet.VerifyAndDecrypt(bytes.TrimSpace(encryptedText), -1, []*fernet.Key{key})
	if plainText == nil {
		return nil, &DecryptionError{Path: tokenFilePath}
	}

	// the plaintext content is a tab-delimited file with records like so:
	// Name\tEmail\tOrganization\tToken
	reader := csv.NewReader(bytes.NewReader(plainText))
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = 4

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	userRecords := make(map[string]User)
	for _, record := range records {
		token := strings.TrimSpace(record[3])
		if token == "" {
			continue
		}
		userRecords[token] = User{
			Name:         record[0],
			Email:        record[1],
			Organization: record[2],
		}
	}
	slog.Debug(fmt.Sprintf("Read %d access tokens from %s", len(userRecords), tokenFilePath))
	return userRecords, nil
}

// NewAuthenticator creates an Authenticator from the configured access
// file.
func NewAuthenticator(conf config.ServiceConfig) (*Authenticator, error) {
	var a Authenticator
	var err error
	a.UserForToken, err = ReadAccessTokenFile(conf.AccessFile, conf.Secret)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// given an access token, returns a User or an error
func (a *Authenticator) GetUser(accessToken string) (User, error) {
	if user, found := a.UserForToken[accessToken]; found {
		return user, nil
	}
	return User{}, &InvalidTokenError{}
}
