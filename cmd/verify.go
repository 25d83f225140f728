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
	"os"

	"github.com/francor/frankly-go/franklyboot"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <firmware.bin>",
	Short: "Check the application region against a firmware image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read firmware %s: %w", args[0], err)
		}

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		flasher := franklyboot.NewFlasher(client)
		if err := flasher.Verify(raw); err != nil {
			return err
		}
		fmt.Println("app region matches image")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
