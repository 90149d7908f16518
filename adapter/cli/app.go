package cli

import (
	"github.com/settlr/settlr/internal/app"
	"github.com/settlr/settlr/pkg/config"
)

var (
	container *app.Container
	cfg       *config.Config
)

// SetContainer wires the application container into the CLI. Commands that
// need it error out when it is nil.
func SetContainer(c *app.Container) {
	container = c
}

// SetConfig wires the loaded configuration into the CLI.
func SetConfig(c *config.Config) {
	cfg = c
}
