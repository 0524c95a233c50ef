package commands

import (
	"github.com/linsihaku/corda/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for the directory node
var RootCmd = &cobra.Command{
	Use:              "netmap",
	Short:            "network directory node",
	TraverseChildren: true,
}
