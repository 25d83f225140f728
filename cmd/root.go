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
	"net"
	"os"
	"time"

	"github.com/francor/frankly-go/franklyboot"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	argPort    string
	argBaud    int
	argUSB     string
	argTCP     string
	argVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "frankly",
	Short: "Flash and manage devices running the Frankly bootloader",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if argVerbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&argPort, "port", "p", "", "serial port of the device")
	rootCmd.PersistentFlags().IntVarP(&argBaud, "baud", "b", franklyboot.DefaultBaudRate, "serial baud rate")
	rootCmd.PersistentFlags().StringVar(&argUSB, "usb", "", "USB device as vid:pid (hex)")
	rootCmd.PersistentFlags().StringVar(&argTCP, "tcp", "", "TCP address of an emulated device")
	rootCmd.PersistentFlags().BoolVarP(&argVerbose, "verbose", "v", false, "debug logging")
}

// openTransport picks the link from the persistent flags. The first one set
// of --usb, --tcp and --port, in that order, selects it; the others are
// ignored.
func openTransport() (franklyboot.FrameTransport, error) {
	switch {
	case argUSB != "":
		var vid, pid uint16
		if _, err := fmt.Sscanf(argUSB, "%04x:%04x", &vid, &pid); err != nil {
			return nil, fmt.Errorf("parse --usb %q (expect vid:pid): %w", argUSB, err)
		}
		return franklyboot.OpenUSBTransport(vid, pid)
	case argTCP != "":
		conn, err := net.Dial("tcp", argTCP)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", argTCP, err)
		}
		return franklyboot.NewStreamTransport(franklyboot.NewNetStream(conn), 50*time.Millisecond), nil
	case argPort != "":
		return franklyboot.OpenSerialTransport(argPort, argBaud)
	}
	return nil, fmt.Errorf("no device selected, pass --port, --usb or --tcp")
}

func openClient() (*franklyboot.Client, error) {
	tr, err := openTransport()
	if err != nil {
		return nil, err
	}
	return franklyboot.NewClient(tr), nil
}
