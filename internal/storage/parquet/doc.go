// Package parquet implements Parquet export and import for records and summaries.
//
// The package provides:
//   - RecordWriter/RecordReader for raw records
//   - SummaryWriter/SummaryReader for per-source summaries
//   - Export, which drains a query iterator into a file
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
package parquet
