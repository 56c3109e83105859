package approval

import (
	"time"

	"github.com/kidtube/kidtube/internal/apperr"
)

// BonusToday grants whatever is left of the kid's local day
const BonusToday = "today"

var bonusCodes = map[string]int{
	"15": 15,
	"30": 30,
	"60": 60,
}

// ValidBonusCode reports whether code is a code a kid may request
func ValidBonusCode(code string) bool {
	if code == BonusToday {
		return true
	}
	_, ok := bonusCodes[code]
	return ok
}

// EndOfDay returns the next local midnight after now
func EndOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// BonusMinutes resolves a bonus code to minutes at now in loc.
// "today" is the minutes until local midnight, at least 1.
func BonusMinutes(code string, now time.Time, loc *time.Location) (int, error) {
	if minutes, ok := bonusCodes[code]; ok {
		return minutes, nil
	}
	if code != BonusToday {
		return 0, apperr.Validation("invalid bonus code %q", code)
	}

	minutes := int(EndOfDay(now, loc).Sub(now) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes, nil
}
