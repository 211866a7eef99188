package main

import (
	"fmt"
	"os"

	"voice-relay/pkg/interface/console"

	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"ls"},
	Short:   "List open rooms on the signaling server",
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := connectSignaling(cmd.Context())
		if err != nil {
			return err
		}
		defer sig.Close()

		rooms, err := sig.ListRooms(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, console.RenderRooms(rooms))
		return nil
	},
}

func init() {
	addClientFlags(roomsCmd)
}
