package commands

import (
	"github.com/astreum/astreum-go/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

// RootCmd is the root command for Astreum
var RootCmd = &cobra.Command{
	Use:              "astreum",
	Short:            "astreum node",
	TraverseChildren: true,
}
