package app

import (
	"github.com/vk/buildgrid/internal/registry"
	"github.com/vk/buildgrid/modules/image"
	"github.com/vk/buildgrid/modules/stamp"
)

// coreModules is the definitive list of all action modules that are compiled
// into the buildgrid binary.
var coreModules = []registry.Module{
	&stamp.Module{},
	&image.Module{},
}
