// Package storage implements a rotating, archiving record log for sensor
// readings with a time-range query engine over live and archived files.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│  LogWriter  │────▶│ Active CSV  │
//	│   Service   │     │  (buffer)   │     │    file     │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │ rotate
//	                           ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │  Archiver   │────▶│  Retention  │
//	                    │ (zip+move)  │     │   Sweeper   │
//	                    └─────────────┘     └─────────────┘
//
//	┌─────────────┐     ┌─────────────┐
//	│ QueryEngine │────▶│ Summaries / │
//	│ (iterator)  │     │   Parquet   │
//	└─────────────┘     └─────────────┘
//
// The storage system provides:
//   - Buffered appends under a single writer mutex
//   - Rotation by size, row count and file age
//   - Single-entry zip archives named by rotation time
//   - Age-based retention over the archive directory only
//   - Lazy range queries that skip malformed rows with warnings
//   - Per-source summaries with DDSketch percentiles
//   - Parquet export of query results
package storage
