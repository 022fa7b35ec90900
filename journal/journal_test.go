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
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}

// this function gets called at the beginning of a test session
func setup() {
	log.Print("Creating testing directory...\n")
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "tierflow-journal-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

// this function gets called after all tests have been run
func breakdown() {
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// opens a fresh journal for a single test
func openJournal(t *testing.T) *Journal {
	j, err := Open(filepath.Join(TESTING_DIR, t.Name()+".db"))
	if err != nil {
		t.Fatalf("Couldn't open journal: %s", err)
	}
	return j
}

func TestTokensAreDeterministic(t *testing.T) {
	assert := assert.New(t)
	a := Token("run002/scan", "acquisition->staging")
	b := Token("run002/scan", "acquisition->staging")
	c := Token("run002/scan", "staging->archive")
	d := Token("run002/scan/acquisition->staging")
	assert.Equal(a, b)
	assert.NotEqual(a, c)
	assert.NotEqual(a, d)
	assert.Equal(uuid.Version(5), a.Version())
}

func TestOpenAndClose(t *testing.T) {
	assert := assert.New(t)
	j := openJournal(t)
	assert.Nil(j.Close())

	// a closed journal refuses requests
	_, _, err := j.Lookup(uuid.New())
	assert.IsType(&NotOpenError{}, err)
	assert.IsType(&NotOpenError{}, j.Record(Record{Token: uuid.New()}))
	assert.IsType(&NotOpenError{}, j.Close())
}

func TestRecordAndLookup(t *testing.T) {
	assert := assert.New(t)
	j := openJournal(t)
	defer j.Close()

	token := Token("run001/scan.h5", "staging->archive")
	_, found, err := j.Lookup(token)
	assert.Nil(err)
	assert.False(found)

	record := Record{
		Token:       token,
		Kind:        KindTransfer,
		TaskId:      uuid.New(),
		RunKey:      "run001/scan.h5",
		Hop:         "staging->archive",
		Source:      "data832:/data/raw/run001/scan.h5",
		Destination: "nersc832:/global/raw/run001/scan.h5",
		Status:      StatusSubmitted,
	}
	assert.Nil(j.Record(record))

	record1, found, err := j.Lookup(token)
	assert.Nil(err)
	assert.True(found)
	assert.Equal(record.TaskId, record1.TaskId)
	assert.Equal(record.Source, record1.Source)
	assert.Equal(record.Destination, record1.Destination)
	assert.Equal(StatusSubmitted, record1.Status)
	assert.False(record1.SubmitTime.IsZero())
	assert.True(record1.Reusable())

	assert.Nil(j.UpdateStatus(token, StatusFailed))
	record2, _, err := j.Lookup(token)
	assert.Nil(err)
	assert.Equal(StatusFailed, record2.Status)
	assert.Equal(record1.SubmitTime, record2.SubmitTime)
	assert.False(record2.Reusable())

	err = j.UpdateStatus(uuid.New(), StatusSucceeded)
	assert.IsType(&RecordNotFoundError{}, err)

	assert.IsType(&NewRecordError{}, j.Record(Record{}))
}

func TestRecordsInTimeRange(t *testing.T) {
	assert := assert.New(t)
	j := openJournal(t)
	defer j.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := j.Record(Record{
			Token:      Token("run", string(rune('a'+i))),
			Kind:       KindFlow,
			TaskId:     uuid.New(),
			Status:     StatusSucceeded,
			SubmitTime: base.Add(time.Duration(i) * time.Hour),
		})
		assert.Nil(err)
	}
	// replacing a record must not duplicate it in the time index
	rec, _, _ := j.Lookup(Token("run", "b"))
	rec.Status = StatusFailed
	assert.Nil(j.Record(rec))

	records, err := j.Records(base.Add(time.Hour), base.Add(3*time.Hour))
	assert.Nil(err)
	assert.Len(records, 3)
	assert.Equal(StatusFailed, records[0].Status)

	records, err = j.Records(base.Add(-time.Hour), base.Add(10*time.Hour))
	assert.Nil(err)
	assert.Len(records, 5)
}

// temporary testing directory
var TESTING_DIR string
