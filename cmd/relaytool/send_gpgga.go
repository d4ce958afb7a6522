package main

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gpgga-cot-relay/internal/gpgga"
)

func sendGPGGACmd() *cobra.Command {
	var (
		host     string
		port     int
		deviceID string
		count    int
		interval time.Duration
		lat      float64
		lon      float64
		alt      float64
		movement bool
	)

	cmd := &cobra.Command{
		Use:   "send-gpgga",
		Short: "Send synthetic extended GPGGA sentences to the relay's UDP port",
		Long: `Sends one or more GPGGA sentences carrying a trailing device id, the
way the field trackers do. Position defaults to a random point in the
continental US; --movement applies a small random walk between messages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := fmt.Sprintf("%s:%d", host, port)
			conn, err := net.Dial("udp", addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			curLat, curLon, curAlt := lat, lon, alt
			if curLat == 0 {
				curLat = 25.0 + rand.Float64()*24.0
			}
			if curLon == 0 {
				curLon = -125.0 + rand.Float64()*59.0
			}
			if curAlt == 0 {
				curAlt = rand.Float64() * 2000
			}

			color.Cyan("Sending %d GPGGA message(s) to %s as %s", count, addr, deviceID)
			if movement {
				color.Cyan("Movement simulation enabled")
			}

			for i := 0; i < count; i++ {
				if movement && i > 0 {
					curLat += (rand.Float64() - 0.5) * 0.002
					curLon += (rand.Float64() - 0.5) * 0.002
					curAlt += (rand.Float64() - 0.5) * 20
				}

				sentence := gpgga.BuildSentence(time.Now(), curLat, curLon, curAlt, deviceID)
				if _, err := conn.Write([]byte(sentence)); err != nil {
					return fmt.Errorf("send: %w", err)
				}
				fmt.Printf("[%d/%d] %s\n", i+1, count, sentence)

				if i < count-1 {
					time.Sleep(interval)
				}
			}

			color.Green("Done")
			return nil
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "Target host")
	cmd.Flags().IntVarP(&port, "port", "p", 5005, "Target UDP port")
	cmd.Flags().StringVarP(&deviceID, "device-id", "d", "TEST001", "Device id appended to each sentence")
	cmd.Flags().IntVarP(&count, "count", "c", 1, "Number of messages to send")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Delay between messages")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Fixed latitude in decimal degrees (default random)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Fixed longitude in decimal degrees (default random)")
	cmd.Flags().Float64Var(&alt, "alt", 0, "Fixed altitude in metres (default random)")
	cmd.Flags().BoolVarP(&movement, "movement", "m", false, "Random-walk the position between messages")

	return cmd
}
