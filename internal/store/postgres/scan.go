package postgres

import (
	"database/sql/driver"
	"fmt"
	"strconv"

	"github.com/emperorhan/rwa-custody/internal/domain/model"
)

// numeric carries a uint64 through a NUMERIC(20,0) column as decimal text.
type numeric uint64

func (n numeric) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(n), 10), nil
}

func (n *numeric) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		if v < 0 {
			return fmt.Errorf("numeric: negative value %d", v)
		}
		*n = numeric(v)
		return nil
	default:
		return fmt.Errorf("numeric: unsupported source %T", src)
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("numeric: %w", err)
	}
	*n = numeric(u)
	return nil
}

// address scans a base58 column into the model.Address it points at.
type address struct{ dst *model.Address }

func (a address) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("address: unsupported source %T", src)
	}
	parsed, err := model.ParseAddress(s)
	if err != nil {
		return err
	}
	*a.dst = parsed
	return nil
}

func addr(dst *model.Address) address { return address{dst: dst} }
