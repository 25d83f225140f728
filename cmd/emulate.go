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
	"os/signal"
	"time"

	"github.com/francor/frankly-go/franklyboot"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	emulateListen  string
	emulateProfile string
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run an emulated device on a TCP port",
	Long: "Serves the device side of the protocol over TCP. Point the other\n" +
		"commands at it with --tcp. A reset or app start reboots the emulated\n" +
		"device back into the bootloader.",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := franklyboot.DefaultProfile()
		if emulateProfile != "" {
			var err error
			if profile, err = franklyboot.LoadProfile(emulateProfile); err != nil {
				return err
			}
		}

		ln, err := net.Listen("tcp", emulateListen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", emulateListen, err)
		}
		fmt.Printf("emulated device on %s\n", ln.Addr())

		stop := make(chan struct{})
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt)
		go func() {
			<-signalChan
			close(stop)
			ln.Close()
		}()

		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-stop:
					return nil
				default:
					return err
				}
			}
			serveEmulated(profile, conn, stop)
		}
	},
}

// serveEmulated runs boot cycles on one connection until the host goes
// away. Every reset or launch comes back up in the bootloader, which is
// what a development board wired for flashing does.
func serveEmulated(profile *franklyboot.DeviceProfile, conn net.Conn, stop <-chan struct{}) {
	defer conn.Close()
	stream, err := franklyboot.NewBufferedStream(franklyboot.NewNetStream(conn), 4096)
	if err != nil {
		log.Errorf("emulator: %v", err)
		return
	}
	tr := franklyboot.NewStreamTransport(stream, 50*time.Millisecond)

	em, err := franklyboot.NewEmulator(profile, tr)
	if err != nil {
		log.Errorf("emulator: %v", err)
		return
	}
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := em.Run(stop); err != nil {
			log.Debugf("session ended: %v", err)
			return
		}
	}
}

func init() {
	emulateCmd.Flags().StringVarP(&emulateListen, "listen", "l", "127.0.0.1:8278", "TCP listen address")
	emulateCmd.Flags().StringVar(&emulateProfile, "profile", "", "device profile yaml")
	rootCmd.AddCommand(emulateCmd)
}
