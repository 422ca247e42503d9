package app

import (
	"github.com/emtools/susanbridge/internal/protocols/average"
	"github.com/emtools/susanbridge/internal/protocols/ctf"
	"github.com/emtools/susanbridge/internal/protocols/mra"
	"github.com/emtools/susanbridge/internal/protocols/subset"
	"github.com/emtools/susanbridge/internal/registry"
)

// coreModules is the definitive list of all protocols that are compiled into
// the susanbridge binary.
var coreModules = []registry.Module{
	&ctf.Module{},
	&mra.Module{},
	&average.Module{},
	&subset.Module{},
}
