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

var flashStartApp bool

var flashCmd = &cobra.Command{
	Use:   "flash <firmware.bin>",
	Short: "Write a firmware image into the application region",
	Long: "Pads the raw binary to the application region, stamps the CRC-32 footer\n" +
		"and programs it page by page with per-page and whole-app verification.",
	Args: cobra.ExactArgs(1),
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

		flasher := franklyboot.NewFlasher(client, franklyboot.WithProgress(printProgress))
		if err := flasher.Flash(raw, flashStartApp); err != nil {
			return err
		}
		fmt.Println()
		fmt.Printf("flashed %d bytes from %s\n", len(raw), args[0])
		return nil
	},
}

func printProgress(phase franklyboot.FlashPhase, page, total uint32) {
	if total == 0 {
		fmt.Printf("\r%-8s", phase)
		return
	}
	fmt.Printf("\r%-8s %3d/%d pages", phase, page, total)
}

func init() {
	flashCmd.Flags().BoolVarP(&flashStartApp, "start", "s", false, "start the application after flashing")
	rootCmd.AddCommand(flashCmd)
}
