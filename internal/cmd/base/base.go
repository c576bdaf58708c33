// Package base carries the dependencies shared by all CLI commands.
package base

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

// Command is embedded by every subcommand.
type Command struct {
	// UI is the terminal UI for input and output.
	UI cli.Ui

	// Log is the logger for the command.
	Log hclog.Logger
}
