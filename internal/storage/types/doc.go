// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Record: A single timestamped reading from a source
//   - ActiveFile: Size and age bookkeeping for the file receiving new rows
//   - Summary: Aggregated statistics for one source over a time bucket
package types
