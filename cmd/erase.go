// Copyright © 2026 FRANCOR e.V.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"

	"github.com/francor/frankly-go/franklyboot"
	"github.com/spf13/cobra"
)

var erasePage int32

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the application region or a single page",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if erasePage >= 0 {
			if err := client.Ping(); err != nil {
				return err
			}
			if err := client.PageErase(uint32(erasePage)); err != nil {
				return err
			}
			fmt.Printf("erased page %d\n", erasePage)
			return nil
		}

		flasher := franklyboot.NewFlasher(client, franklyboot.WithProgress(printProgress))
		if err := flasher.EraseApp(); err != nil {
			return err
		}
		fmt.Println()
		fmt.Println("application region erased")
		return nil
	},
}

func init() {
	eraseCmd.Flags().Int32Var(&erasePage, "page", -1, "erase only this page")
	rootCmd.AddCommand(eraseCmd)
}
