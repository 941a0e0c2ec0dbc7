package testutil

import (
	"time"

	"github.com/skosovsky/toolstream"
)

// NewTestRegistry registers tools in a Registry with test defaults: a 30s default timeout, so
// slow machines do not turn into ErrTimeout, and panic recovery on.
func NewTestRegistry(tools ...toolstream.Tool) *toolstream.Registry {
	return NewTestRegistryWith(nil, tools...)
}

// NewTestRegistryWith is NewTestRegistry with opts applied after the test defaults.
func NewTestRegistryWith(opts []toolstream.RegistryOption, tools ...toolstream.Tool) *toolstream.Registry {
	all := append([]toolstream.RegistryOption{
		toolstream.WithDefaultTimeout(30 * time.Second),
		toolstream.WithRecoverPanics(true),
	}, opts...)
	reg := toolstream.NewRegistry(all...)
	for _, t := range tools {
		reg.Register(t)
	}
	return reg
}
