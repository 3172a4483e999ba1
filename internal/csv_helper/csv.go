package csv_helper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"
)

var csvMutex = &sync.Mutex{}

// HistoryHeaders is the header row of the query history file.
var HistoryHeaders = []string{"time", "queryId", "input", "match", "matchedFile", "goodMatches", "elapsedSec"}

// CreateCSVFileWithHeaders creates filename and writes the header row. An
// existing file is left untouched so history survives restarts.
func CreateCSVFileWithHeaders(filename string, headers []string) error {
	csvMutex.Lock()
	defer csvMutex.Unlock()

	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat CSV file %s: %w", filename, err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating CSV file %s: %w", filename, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

// AppendResultToCSV appends one record to filename, creating it if needed.
func AppendResultToCSV(filename string, record []string) error {
	csvMutex.Lock()
	defer csvMutex.Unlock()

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening CSV file %s for appending: %w", filename, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("writing CSV record: %w", err)
	}
	writer.Flush()
	return writer.Error()
}
