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
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var readmemWords uint32

var readmemCmd = &cobra.Command{
	Use:   "readmem <addr>",
	Short: "Dump flash contents word by word",
	Long:  "Reads words from flash starting at the given address (hex or decimal).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr64, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return fmt.Errorf("parse address %q: %w", args[0], err)
		}
		addr := uint32(addr64)
		if addr%4 != 0 {
			return fmt.Errorf("address %#x is not word aligned", addr)
		}

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		line := make([]byte, 0, 16)
		lineAddr := addr
		for i := uint32(0); i < readmemWords; i++ {
			w, err := client.FlashReadWord(addr + i*4)
			if err != nil {
				return err
			}
			line = binary.LittleEndian.AppendUint32(line, w)
			if len(line) == 16 || i == readmemWords-1 {
				fmt.Printf("%#08x: % x\n", lineAddr, line)
				lineAddr += uint32(len(line))
				line = line[:0]
			}
		}
		return nil
	},
}

func init() {
	readmemCmd.Flags().Uint32VarP(&readmemWords, "words", "n", 64, "number of words to read")
	rootCmd.AddCommand(readmemCmd)
}
