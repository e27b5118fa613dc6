package config

import (
	"strconv"
	"time"

	defaults "github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays SENSORLOG_* environment variables onto c.
// Values set in the environment win over file values.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(defaults.EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := lookup(defaults.EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, errors.NewInvalidValue(defaults.EnvPrefix+name, v, "not a duration"))
			return
		}
		*dst = d
	}
	num := func(name string, dst *int64) {
		v, ok := lookup(defaults.EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, errors.NewInvalidValue(defaults.EnvPrefix+name, v, "not an integer"))
			return
		}
		*dst = n
	}

	str("STORAGE_DIR", &c.StorageDir)
	str("FILENAME_PATTERN", &c.FilenamePattern)
	str("LOCATION", &c.Location)
	str("LOG_LEVEL", &c.Logging.Level)
	dur("ROTATE_EVERY", &c.Rotation.Every)
	dur("RETENTION", &c.Retention.Duration)
	num("MAX_SIZE_BYTES", &c.Rotation.MaxSizeBytes)
	num("MAX_LINE_COUNT", &c.Rotation.MaxLineCount)

	threshold := int64(c.Writer.BufferFlushThreshold)
	num("BUFFER_FLUSH_THRESHOLD", &threshold)
	c.Writer.BufferFlushThreshold = int(threshold)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
