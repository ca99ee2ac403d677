package service

import "fmt"

// requireExactlyOne turns an unexpected guarded-update row count into an
// error so callers can surface the lost race.
func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}
