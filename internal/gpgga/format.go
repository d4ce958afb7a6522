package gpgga

import (
	"fmt"
	"math"
	"time"
)

// FormatCoordinate converts signed decimal degrees to the NMEA packed
// ddmm.mmmm form plus its hemisphere letter. degWidth is 2 for latitude and
// 3 for longitude.
func FormatCoordinate(dec float64, degWidth int, pos, neg byte) (string, string) {
	hemi := pos
	if dec < 0 {
		hemi = neg
	}
	abs := math.Abs(dec)
	deg := int(abs)
	mins := (abs - float64(deg)) * 60
	return fmt.Sprintf("%0*d%07.4f", degWidth, deg, mins), string(hemi)
}

// BuildSentence assembles a complete extended GPGGA sentence, checksum
// included, for the given position and device id. It mirrors what the field
// trackers emit and exists for the test sender and for round-trip tests.
func BuildSentence(when time.Time, lat, lon, alt float64, deviceID string) string {
	latStr, latHemi := FormatCoordinate(lat, 2, 'N', 'S')
	lonStr, lonHemi := FormatCoordinate(lon, 3, 'E', 'W')

	payload := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,08,0.9,%.1f,M,46.9,M,,%s",
		when.UTC().Format("150405")+".00",
		latStr, latHemi, lonStr, lonHemi, alt, deviceID)
	return "$" + payload + "*" + Checksum(payload)
}
