package gpgga

import "fmt"

// TimeOfDay is the UTC time-of-fix reported by the device. GPGGA carries no
// date, so this is a wall-clock time only.
type TimeOfDay struct {
	Hour        int
	Minute      int
	Second      int
	Microsecond int
}

// String formats like 12:35:19 or 12:35:19.500000 when sub-second precision
// is present.
func (t TimeOfDay) String() string {
	if t.Microsecond != 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", t.Hour, t.Minute, t.Second, t.Microsecond)
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Record is a validated position report decoded from one extended GPGGA
// sentence. Instances are only ever constructed by Parse; a Record that fails
// validation is never observable.
type Record struct {
	// TimeOfFix is nil when the device omitted the time field or supplied an
	// out-of-range value.
	TimeOfFix *TimeOfDay

	// Latitude and Longitude are decimal degrees, south/west negative.
	Latitude  float64
	Longitude float64

	// FixQuality is the GPS solution type, 0..8.
	FixQuality    int
	NumSatellites int

	// HDOP is 0 when the sentence omitted it.
	HDOP float64

	// Altitude is meters above mean sea level.
	Altitude float64

	GeoidSeparation *float64
	DGPSAge         *float64
	DGPSStationID   string

	// DeviceID is the operator-assigned identifier from the custom trailing
	// field. Always non-empty.
	DeviceID string
}

// HasValidFix reports whether the device had any GPS solution.
func (r Record) HasValidFix() bool {
	return r.FixQuality > 0
}

var fixQualityDescriptions = map[int]string{
	0: "Invalid",
	1: "GPS fix",
	2: "DGPS fix",
	3: "PPS fix",
	4: "Real Time Kinematic",
	5: "Float RTK",
	6: "Estimated",
	7: "Manual input",
	8: "Simulation",
}

// FixQualityDescription returns a human-readable name for the fix quality.
func (r Record) FixQualityDescription() string {
	if d, ok := fixQualityDescriptions[r.FixQuality]; ok {
		return d
	}
	return "Unknown"
}
