package screening

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FeatureCount is the number of scalar voice measurements the SVM expects.
const FeatureCount = 22

// ErrorKind identifies which validation constraint a request violated.
type ErrorKind string

const (
	InvalidFeatureCount ErrorKind = "invalid_feature_count"
	InvalidNumericValue ErrorKind = "invalid_numeric_value"
	UnsupportedFileType ErrorKind = "unsupported_file_type"
	FileTooLarge        ErrorKind = "file_too_large"
	EmptyInput          ErrorKind = "empty_input"
)

// ValidationError is a client-caused rejection. The classifier is never
// invoked once one of these is raised.
type ValidationError struct {
	Kind    ErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a typed validation failure.
func NewValidationError(kind ErrorKind, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ValidateFeatureVector checks that a parsed vector carries exactly
// FeatureCount values.
func ValidateFeatureVector(features []float64) error {
	if len(features) != FeatureCount {
		return NewValidationError(InvalidFeatureCount, "expected %d features, got %d", FeatureCount, len(features))
	}
	return nil
}

// ParseFeatureCSV reads a voice feature vector from an uploaded CSV file.
// The file must hold a single record of FeatureCount numeric fields; an
// optional header row is detected by its first field failing to parse as a
// number and is skipped. Blank lines are ignored.
func ParseFeatureCSV(r io.Reader) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, NewValidationError(InvalidNumericValue, "malformed CSV: %v", err)
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil, NewValidationError(EmptyInput, "CSV contains no feature values")
	}

	row := rows[0]
	if len(rows) > 1 && looksLikeHeader(row) {
		row = rows[1]
	}

	features := make([]float64, 0, len(row))
	for i, field := range row {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, NewValidationError(InvalidNumericValue, "feature %d (%q) is not numeric", i+1, strings.TrimSpace(field))
		}
		features = append(features, value)
	}

	if err := ValidateFeatureVector(features); err != nil {
		return nil, err
	}
	return features, nil
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// looksLikeHeader reports whether a record is a column-name row rather than
// data. Only consulted when a second record exists to fall back on.
func looksLikeHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
	return err != nil
}
