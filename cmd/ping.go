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

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a device is in the bootloader",
	Long:  "Sends a ping frame. A device that answers stays in the bootloader until told otherwise.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Ping(); err != nil {
			return err
		}
		major, minor, patch, err := client.BootloaderVersion()
		if err != nil {
			return err
		}
		fmt.Printf("device alive, bootloader v%d.%d.%d\n", major, minor, patch)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
