package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// SeatList is a custom type for handling the TEXT[] seat column in PostgreSQL
type SeatList []string

// Value implements the driver.Valuer interface
func (a SeatList) Value() (driver.Value, error) {
	if a == nil {
		return pq.Array([]string{}).Value()
	}
	return pq.Array([]string(a)).Value()
}

// Scan implements the sql.Scanner interface
func (a *SeatList) Scan(src interface{}) error {
	if src == nil {
		*a = SeatList{}
		return nil
	}
	slice := (*[]string)(a)
	return pq.Array(slice).Scan(src)
}

// Count returns the number of seats in the list
func (a SeatList) Count() int {
	return len(a)
}
