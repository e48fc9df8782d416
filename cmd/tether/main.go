package main

import (
	"github.com/go-tether/tether/cmd/tether/cmds"
	"github.com/go-tether/tether/pkg/version"
)

// Build is the git revision this binary was built from.
var Build string

func main() {
	if Build != "" {
		version.TetherVersion.Build = Build
	}
	cmds.New().Execute()
}
