package cli

import (
	"github.com/spf13/cobra"
)

var (
	runListenAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the decision service on live synthetic traffic",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runListenAddr != "" {
			a.Config.Server.Enabled = true
			a.Config.Server.ListenAddr = runListenAddr
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runListenAddr, "listen", "", "Serve the admin API on this address (overrides server.listen_addr)")
}
