package ics

import (
	"time"

	// Embedded zone database so conversions do not depend on the host.
	_ "time/tzdata"
)

// ZoneResolver maps a timezone name to a location. Implementations must be
// safe for concurrent use.
type ZoneResolver interface {
	Resolve(name string) (*time.Location, error)
}

// ZoneResolverFunc adapts a function to ZoneResolver.
type ZoneResolverFunc func(name string) (*time.Location, error)

func (f ZoneResolverFunc) Resolve(name string) (*time.Location, error) {
	return f(name)
}

// SystemZones resolves IANA names through the Go zone database.
var SystemZones ZoneResolver = ZoneResolverFunc(time.LoadLocation)
