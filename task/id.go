package task

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ID identifies a task. It is an opaque string assigned by the remote
// service; mutations require it to coerce to a positive integer.
type ID string

// Int64 returns the numeric form of id.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (id ID) String() string { return string(id) }

// MarshalJSON encodes numeric ids as JSON numbers and everything else as a
// string.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int64(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON number or a JSON string.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "decode task id")
	}
	*id = ID(n.String())
	return nil
}

// maxExactFloat is 2^53, the first integer a float64 cannot tell from its
// successor.
const maxExactFloat = 1 << 53

var (
	errIDRequired = &ValidationError{Field: "id", Message: "Task ID is required", Err: ErrMissingField}
	errIDInvalid  = &ValidationError{Field: "id", Message: "Invalid task ID", Err: ErrInvalidPayload}
)

// ParseID coerces a decoded JSON value (or a plain string) into an ID that
// refers to a positive integer.
func ParseID(raw any) (ID, error) {
	var s string
	switch v := raw.(type) {
	case nil:
		return "", errIDRequired
	case ID:
		s = string(v)
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		// Integers at or above 2^53 may already have been rounded.
		if v != math.Trunc(v) || v <= 0 || v >= maxExactFloat {
			return "", errIDInvalid
		}
		return ID(strconv.FormatInt(int64(v), 10)), nil
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	default:
		return "", errIDInvalid
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errIDRequired
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return "", errIDInvalid
	}
	return ID(strconv.FormatInt(n, 10)), nil
}
