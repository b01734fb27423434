package transform

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"ingest-connector/internal/logging"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownType is returned when no coercion is registered for a declared data type.
	ErrUnknownType = errors.New("unsupported data type")
	// ErrConversion is returned when raw text cannot be coerced to the declared type.
	ErrConversion = errors.New("conversion failed")
)

// CoerceFunc converts trimmed raw text into a typed value.
// Implementations return string, decimal.Decimal, time.Time or bool.
type CoerceFunc func(raw string) (interface{}, error)

// coercionRegistry maps lower-case data type names to their coercion.
var coercionRegistry = make(map[string]CoerceFunc)

func init() {
	coercionRegistry["string"] = toString
	coercionRegistry["number"] = toNumber
	coercionRegistry["date"] = toDate
	coercionRegistry["bool"] = toBool
}

// Coerce converts raw to the declared dataType (case-insensitive).
// Leading and trailing whitespace of raw is ignored.
func Coerce(dataType, raw string) (interface{}, error) {
	key := strings.ToLower(strings.TrimSpace(dataType))
	fn, ok := coercionRegistry[key]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownType, dataType)
	}
	v, err := fn(strings.TrimSpace(raw))
	if err != nil {
		logging.Logf(logging.Debug, "Coerce: '%s' as %s failed: %v", raw, key, err)
		return nil, err
	}
	return v, nil
}

// Types returns the registered data type names in sorted order.
func Types() []string {
	names := make([]string, 0, len(coercionRegistry))
	for k := range coercionRegistry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func toString(raw string) (interface{}, error) {
	return raw, nil
}

// groupedNumberRegex matches numbers using ',' as a thousands separator, e.g. "1,234,567.89".
var groupedNumberRegex = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// toNumber parses an exact base-10 decimal. Invariant thousands separators are
// accepted; exponent notation ("1e3") is not.
func toNumber(raw string) (interface{}, error) {
	text := raw
	if strings.ContainsAny(text, "eE") {
		return nil, fmt.Errorf("%w: '%s' is not a valid number", ErrConversion, raw)
	}
	if groupedNumberRegex.MatchString(text) {
		text = strings.ReplaceAll(text, ",", "")
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s' is not a valid number", ErrConversion, raw)
	}
	return d, nil
}

// dateLayouts are tried in order. Layouts without a zone are interpreted as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"01-02-06",
	"20060102",
	"2 January 2006",
	"02 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Monday, 02 January 2006",
	"Monday, January 2, 2006",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// toDate parses common locale-invariant date and date-time forms.
func toDate(raw string) (interface{}, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("%w: '%s' is not a recognized date", ErrConversion, raw)
}

// toBool accepts "true" or "false" in any letter case.
func toBool(raw string) (interface{}, error) {
	switch strings.ToLower(raw) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return nil, fmt.Errorf("%w: '%s' is not a valid boolean", ErrConversion, raw)
	}
}
