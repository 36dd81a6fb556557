/*
schedule.go - Settlement window arithmetic

The weekly cutoff gate. A request created at any point in the week is
scheduled for the next occurrence of the settlement weekday at 00:00
UTC; the scheduler only settles pending requests whose cutoff has
passed. Requests created on the cutoff day itself fall into the next
week's window, so a settlement run never races the requests still being
created that day.
*/
package payout

import "time"

// NextSettlement returns the first settlement cutoff strictly after
// from: 00:00 UTC on the next occurrence of day.
func NextSettlement(from time.Time, day time.Weekday) time.Time {
	from = from.UTC()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)

	daysAhead := (int(day) - int(start.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	return start.AddDate(0, 0, daysAhead)
}
