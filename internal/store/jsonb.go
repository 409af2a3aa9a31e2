package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonColumn adapts an arbitrary Go value to a JSONB column via
// database/sql's Valuer/Scanner, used for every semi-structured field
// (payload, options, progress, result, urls, crawler/page options).
type jsonColumn struct {
	dest any
}

func jsonOf(dest any) jsonColumn {
	return jsonColumn{dest: dest}
}

func (j jsonColumn) Value() (driver.Value, error) {
	b, err := json.Marshal(j.dest)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

func (j *jsonColumn) Scan(src any) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported json column source type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, j.dest)
}
