package market

import "time"

// SessionType represents different market session states
type SessionType string

const (
	SessionPremarket  SessionType = "PRE"
	SessionRegular    SessionType = "RTH"
	SessionPostmarket SessionType = "POST"
	SessionClosed     SessionType = "CLOSED"
	SessionUnknown    SessionType = "UNKNOWN"
)

// SessionAt returns the US equities session at t.
// This is a simple implementation - production would use the NYSE holiday calendar
func SessionAt(t time.Time) SessionType {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return SessionUnknown
	}
	et := t.In(loc)

	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return SessionClosed
	}

	minutes := et.Hour()*60 + et.Minute()

	premarketStart := 4 * 60  // 4:00 AM ET
	marketOpen := 9*60 + 30   // 9:30 AM ET
	marketClose := 16 * 60    // 4:00 PM ET
	postmarketEnd := 20 * 60  // 8:00 PM ET

	switch {
	case minutes >= premarketStart && minutes < marketOpen:
		return SessionPremarket
	case minutes >= marketOpen && minutes < marketClose:
		return SessionRegular
	case minutes >= marketClose && minutes < postmarketEnd:
		return SessionPostmarket
	default:
		return SessionClosed
	}
}

// MarketStatus collapses the session into the "open"/"closed" flag used by the summary
func MarketStatus(t time.Time) string {
	if SessionAt(t) == SessionRegular {
		return "open"
	}
	return "closed"
}
