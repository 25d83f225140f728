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

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print device identity, flash geometry and app state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		info, err := client.ReadDeviceInfo()
		if err != nil {
			return err
		}

		fmt.Printf("Bootloader:      v%d.%d.%d\n", info.VersionMajor, info.VersionMinor, info.VersionPatch)
		fmt.Printf("Vendor ID:       %#08x\n", info.VendorID)
		fmt.Printf("Product ID:      %#08x\n", info.ProductID)
		fmt.Printf("Production date: %#08x\n", info.ProductionDate)
		fmt.Printf("Unique ID:       %08x-%08x-%08x\n", info.UniqueID[0], info.UniqueID[1], info.UniqueID[2])
		fmt.Printf("Flash:           %#08x, %d pages of %d bytes\n",
			info.FlashStartAddr, info.FlashNumPages, info.FlashPageSize)
		fmt.Printf("App region:      page %d..%d\n", info.AppFirstPage, info.FlashNumPages-1)
		fmt.Printf("App CRC:         calc %#08x, stored %#08x\n", info.AppCRCCalc, info.AppCRCStored)
		if info.AppValid() {
			fmt.Println("App state:       valid")
		} else {
			fmt.Println("App state:       INVALID")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
