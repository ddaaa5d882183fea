package anonymizer

import (
	"context"

	"github.com/rs/dnscache"
)

// Resolver turns host names and address literals into addresses. Pool
// network bases and static overrides are resolved through it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// the default resolver caches lookups, override names repeat across
// resource files and pool bases repeat across refills
func newResolver() Resolver {
	return &dnscache.Resolver{}
}
