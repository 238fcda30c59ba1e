// Package system provides the wall clock used to derive period labels.
package system

import (
	"time"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

var _ mylist.Clock = Clock{}

// Clock implements mylist.Clock.
type Clock struct {
	loc *time.Location
}

// New returns a UTC clock.
func New() Clock {
	return Clock{loc: time.UTC}
}

// NewIn returns a clock reporting times in loc. Period labels follow the
// clock's location, so a month boundary can differ from UTC.
func NewIn(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
