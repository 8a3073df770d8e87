package market

import (
	"errors"
	"fmt"
)

// DataSourceError reports a failed fetch from the market data source: network
// failure, timeout, bad status, rate limiting or an undecodable response.
type DataSourceError struct {
	Source string
	Reason string
	Err    error
}

func (e *DataSourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: data source error (%s)", e.Source, e.Reason)
	}
	return fmt.Sprintf("%s: data source error (%s): %v", e.Source, e.Reason, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// NewDataSourceError wraps err unless it already is a DataSourceError.
func NewDataSourceError(source, reason string, err error) error {
	var dse *DataSourceError
	if errors.As(err, &dse) {
		return err
	}
	return &DataSourceError{Source: source, Reason: reason, Err: err}
}

// IsDataSourceError reports whether err is or wraps a DataSourceError.
func IsDataSourceError(err error) bool {
	var dse *DataSourceError
	return errors.As(err, &dse)
}

// FormatError marks a single malformed record. Such records are skipped; the
// rest of the refresh proceeds.
type FormatError struct {
	Index int
	Field string
	Msg   string
}

func (e *FormatError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("record %d: field %q missing", e.Index, e.Field)
	}
	return fmt.Sprintf("record %d: field %q %s", e.Index, e.Field, e.Msg)
}
