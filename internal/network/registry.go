package network

import (
	"fmt"

	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/mods/document"
	"github.com/openagents/network/mods/forum"
	"github.com/openagents/network/mods/messaging"
	"github.com/openagents/network/mods/task"
	"github.com/openagents/network/mods/wiki"
)

// modConstructors maps a NetworkDescriptor mod entry's name to the
// constructor that builds it; a descriptor's mods[] list order
// becomes the Mod Pipeline's run order (spec.md §6).
var modConstructors = map[string]func() modpipeline.Mod{
	"messaging":       func() modpipeline.Mod { return messaging.New() },
	"shared_document": func() modpipeline.Mod { return document.New() },
	"wiki":            func() modpipeline.Mod { return wiki.New() },
	"forum":           func() modpipeline.Mod { return forum.New() },
	"task":            func() modpipeline.Mod { return task.New() },
}

func buildMod(name string) (modpipeline.Mod, error) {
	ctor, ok := modConstructors[name]
	if !ok {
		return nil, fmt.Errorf("network: unknown mod %q", name)
	}
	return ctor(), nil
}
