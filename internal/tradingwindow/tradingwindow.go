// Package tradingwindow computes the trading-window helper the read API
// consumes: the open/close timestamps around a contract's delivery_start.
package tradingwindow

import (
	"time"
)

var stockholm *time.Location

func init() {
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		loc = time.UTC
	}
	stockholm = loc
}

// Window returns (openUTC, closeUTC) for a contract delivering at
// deliveryStartUTC. openUTC is 13:00 local time in Stockholm on the day
// before the delivery date; closeUTC is one hour before delivery starts.
func Window(deliveryStartUTC time.Time) (openUTC, closeUTC time.Time) {
	local := deliveryStartUTC.In(stockholm)
	dayBefore := local.AddDate(0, 0, -1)
	open := time.Date(dayBefore.Year(), dayBefore.Month(), dayBefore.Day(), 13, 0, 0, 0, stockholm)
	return open.UTC(), deliveryStartUTC.Add(-time.Hour).UTC()
}
