// Package schedule answers calendar questions about the daily dormant window.
//
// Every function is a pure function of the supplied instant and Config. None of
// them read the wall clock.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// AnnouncementWindow is how long before dormancy the single pre-dormancy
// announcement may be emitted.
const AnnouncementWindow = 5 * time.Minute

type Config struct {
	// DormantStartHour is the first dormant hour of the day (0..23).
	DormantStartHour int
	// DormantEndHour is the first hour that is no longer dormant (0..23). When
	// it is smaller than DormantStartHour the window spans midnight. When both
	// hours are equal there is no dormant window.
	DormantEndHour int
	// TickInterval is the cadence of turns while active.
	TickInterval time.Duration
	// Location is the time zone the hours are expressed in. Nil means the
	// location of the instant being evaluated.
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		DormantStartHour: 2,
		DormantEndHour:   8,
		TickInterval:     5 * time.Minute,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.DormantStartHour < 0 || c.DormantStartHour > 23 {
		errs = append(errs, fmt.Errorf("dormant start hour %d out of range 0..23", c.DormantStartHour))
	}
	if c.DormantEndHour < 0 || c.DormantEndHour > 23 {
		errs = append(errs, fmt.Errorf("dormant end hour %d out of range 0..23", c.DormantEndHour))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	return errors.Join(errs...)
}

// HasWindow reports whether the configuration defines a dormant window at all.
func (c Config) HasWindow() bool {
	return c.DormantStartHour != c.DormantEndHour
}

func (c Config) local(now time.Time) time.Time {
	if c.Location == nil {
		return now
	}
	return now.In(c.Location)
}

// IsDormant reports whether now's hour falls in [start, end).
func IsDormant(c Config, now time.Time) bool {
	if !c.HasWindow() {
		return false
	}

	hour := c.local(now).Hour()
	if c.DormantStartHour < c.DormantEndHour {
		return hour >= c.DormantStartHour && hour < c.DormantEndHour
	}
	return hour >= c.DormantStartHour || hour < c.DormantEndHour
}

// UntilDormancyStart is zero when already dormant (or when there is no
// window), otherwise the time left until the next DormantStartHour:00.
func UntilDormancyStart(c Config, now time.Time) time.Duration {
	if !c.HasWindow() || IsDormant(c, now) {
		return 0
	}
	return untilNextHour(c.local(now), c.DormantStartHour)
}

// UntilDormancyEnd is zero when not dormant, otherwise the time left until
// the next DormantEndHour:00.
func UntilDormancyEnd(c Config, now time.Time) time.Duration {
	if !IsDormant(c, now) {
		return 0
	}
	return untilNextHour(c.local(now), c.DormantEndHour)
}

// ShouldAnnounceDormancyStart is true only inside the short window right
// before dormancy begins, never once dormancy has started.
func ShouldAnnounceDormancyStart(c Config, now time.Time) bool {
	until := UntilDormancyStart(c, now)
	return until > 0 && until <= AnnouncementWindow
}

func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
