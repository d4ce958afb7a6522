package main

import (
	"fmt"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gpgga-cot-relay/internal/cot"
	"gpgga-cot-relay/internal/gpgga"
)

func sendCoTCmd() *cobra.Command {
	var (
		host     string
		port     int
		callsign string
		lat      float64
		lon      float64
		alt      float64
	)

	cmd := &cobra.Command{
		Use:   "send-cot",
		Short: "Send one CoT event directly to a TAK server",
		Long: `Connects to the TAK server over plain TCP and sends a single CoT event,
bypassing the relay entirely. Useful for checking server reachability and
that markers appear on the map.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := fmt.Sprintf("%s:%d", host, port)
			color.Cyan("Connecting to %s", addr)

			conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			enc := cot.NewEncoder("a-f-G-U-C", 5*time.Minute, nil)
			ev := enc.Encode(gpgga.Record{
				DeviceID:      callsign,
				Latitude:      lat,
				Longitude:     lon,
				Altitude:      alt,
				FixQuality:    1,
				NumSatellites: 8,
				HDOP:          0.9,
			}, time.Now())

			b, err := ev.Marshal()
			if err != nil {
				return fmt.Errorf("build event: %w", err)
			}

			if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return err
			}
			if _, err := conn.Write(append(b, '\n')); err != nil {
				return fmt.Errorf("send: %w", err)
			}

			fmt.Printf("%s\n", b)
			color.Green("Sent; look for marker %q at %.4f, %.4f", callsign, lat, lon)

			// Give the server a moment to read before tearing down.
			time.Sleep(2 * time.Second)
			return nil
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "TAK server host")
	cmd.Flags().IntVarP(&port, "port", "p", 8087, "TAK server TCP port")
	cmd.Flags().StringVar(&callsign, "callsign", "DIRECT-TEST", "Device id / callsign for the event")
	cmd.Flags().Float64Var(&lat, "lat", 36.0, "Latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", -94.0, "Longitude in decimal degrees")
	cmd.Flags().Float64Var(&alt, "alt", 100.0, "Altitude in metres")

	return cmd
}
