package main

import (
	"fmt"
	"os"

	"voice-relay/internal/discovery"

	"github.com/spf13/cobra"
)

var flagDiscoverDHT bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find a signaling server announced on the network",
	RunE: func(cmd *cobra.Command, args []string) error {
		dcfg := discovery.DefaultConfig()
		dcfg.DHT = flagDiscoverDHT
		ann, err := discovery.Find(cmd.Context(), dcfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s  %s  (%d open rooms)\n", ann.Name, ann.SignalingURL, ann.Rooms)
		return nil
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&flagDiscoverDHT, "dht", false, "fall back to the public DHT when mDNS finds nothing")
}
