// OpenClaw - multi-channel AI chat gateway with an external message bridge

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mingtsay/openclaw/cmd/openclaw/internal"
	"github.com/mingtsay/openclaw/cmd/openclaw/internal/gateway"
	"github.com/mingtsay/openclaw/cmd/openclaw/internal/inject"
	"github.com/mingtsay/openclaw/cmd/openclaw/internal/version"
)

func NewOpenclawCommand() *cobra.Command {
	short := fmt.Sprintf("%s openclaw - AI chat gateway v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "openclaw",
		Short:   short,
		Example: "openclaw gateway",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		inject.NewInjectCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewOpenclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
