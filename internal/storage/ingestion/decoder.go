package ingestion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/xtxerr/sensorlog/internal/storage/types"
	"github.com/xtxerr/sensorlog/internal/validation"
)

// isoLocalLayout is an ISO 8601 timestamp without a zone offset.
// Fractional seconds are accepted by time.Parse.
const isoLocalLayout = "2006-01-02T15:04:05"

// Decoder turns JSON readings into records.
//
// Accepted fields:
//
//	sensor_id | source_id  string, required
//	value                  number or numeric string, required
//	unit                   string, optional
//	timestamp              string or unix seconds, optional (defaults to now)
//
// A string timestamp is either the storage form ("2006-01-02 15:04:05[.f]"),
// RFC 3339, or ISO 8601 without a zone. Zoneless forms are read in the
// decoder's location.
type Decoder struct {
	parsers fastjson.ParserPool
	loc     *time.Location
	now     func() time.Time
}

// NewDecoder creates a decoder. A nil loc means Local, a nil now means time.Now.
func NewDecoder(loc *time.Location, now func() time.Time) *Decoder {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Decoder{loc: loc, now: now}
}

// Decode parses a single JSON object.
func (d *Decoder) Decode(line []byte) (types.Record, error) {
	p := d.parsers.Get()
	defer d.parsers.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil {
		return types.Record{}, fmt.Errorf("parse json: %w", err)
	}
	return d.decodeValue(v)
}

// DecodeAll parses either a single object or an array of objects.
// The first invalid element fails the whole line.
func (d *Decoder) DecodeAll(line []byte) ([]types.Record, error) {
	p := d.parsers.Get()
	defer d.parsers.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if v.Type() != fastjson.TypeArray {
		r, err := d.decodeValue(v)
		if err != nil {
			return nil, err
		}
		return []types.Record{r}, nil
	}

	items, _ := v.Array()
	records := make([]types.Record, 0, len(items))
	for i, item := range items {
		r, err := d.decodeValue(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (d *Decoder) decodeValue(v *fastjson.Value) (types.Record, error) {
	if v.Type() != fastjson.TypeObject {
		return types.Record{}, fmt.Errorf("expected object, got %s", v.Type())
	}

	sourceID := string(v.GetStringBytes("sensor_id"))
	if sourceID == "" {
		sourceID = string(v.GetStringBytes("source_id"))
	}
	if sourceID == "" {
		return types.Record{}, fmt.Errorf("missing sensor_id")
	}
	if err := validation.ValidateSourceID(sourceID); err != nil {
		return types.Record{}, err
	}

	unit := string(v.GetStringBytes("unit"))
	if err := validation.ValidateUnit(unit); err != nil {
		return types.Record{}, err
	}

	value, err := decodeNumber(v.Get("value"))
	if err != nil {
		return types.Record{}, err
	}

	ts, err := d.decodeTimestamp(v.Get("timestamp"))
	if err != nil {
		return types.Record{}, err
	}

	return types.Record{
		Timestamp: ts,
		SourceID:  sourceID,
		Value:     value,
		Unit:      unit,
	}, nil
}

func decodeNumber(v *fastjson.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("missing value")
	}

	var f float64
	switch v.Type() {
	case fastjson.TypeNumber:
		f = v.GetFloat64()
	case fastjson.TypeString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(v.GetStringBytes())), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", v.GetStringBytes())
		}
		f = parsed
	default:
		return 0, fmt.Errorf("invalid value type %s", v.Type())
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value is not finite")
	}
	return f, nil
}

func (d *Decoder) decodeTimestamp(v *fastjson.Value) (time.Time, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return d.now(), nil
	}

	switch v.Type() {
	case fastjson.TypeNumber:
		secs := v.GetFloat64()
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)), nil
	case fastjson.TypeString:
		return d.parseTimestamp(string(v.GetStringBytes()))
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp type %s", v.Type())
	}
}

func (d *Decoder) parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if ts, err := types.ParseTimestamp(s, d.loc); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation(isoLocalLayout, s, d.loc); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
