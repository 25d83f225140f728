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

var startForce bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the application",
	Long: "Asks the device to jump into the application. Without --force the device\n" +
		"refuses with a checksum error when the image does not validate.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.StartApp(startForce); err != nil {
			return err
		}
		fmt.Println("application started")
		return nil
	},
}

func init() {
	startCmd.Flags().BoolVarP(&startForce, "force", "f", false, "start even if the image does not validate")
	rootCmd.AddCommand(startCmd)
}
