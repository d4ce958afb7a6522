package gpgga

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Parse failure taxonomy. All parse errors wrap exactly one of these and can
// be classified with errors.Is.
var (
	ErrChecksumMissing   = errors.New("gpgga: missing checksum")
	ErrChecksumMismatch  = errors.New("gpgga: checksum mismatch")
	ErrMalformedSentence = errors.New("gpgga: malformed sentence")
	ErrInvalidField      = errors.New("gpgga: invalid field")
)

const sentencePrefix = "$GPGGA,"

// Comma-split payload widths of the extended sentence:
// GPGGA, time, lat, N/S, lon, E/W, fix, sats, hdop, alt, M, geoid,
// geoid unit, dgps age, dgps station, device id. Trackers in the field
// commonly collapse the two DGPS fields into one empty field, so both the
// 15- and 16-field forms are accepted; the device id is always last.
const (
	fieldCountShort = 15
	fieldCountFull  = 16
)

// Parse decodes one extended GPGGA sentence into a Record.
//
// The checksum is verified before any structural parsing, so a corrupted
// sentence fails with ErrChecksumMismatch even when it would otherwise match
// the field grammar.
func Parse(sentence string) (Record, error) {
	s := strings.TrimSpace(sentence)

	parts := strings.Split(s, "*")
	if len(parts) == 1 {
		return Record{}, ErrChecksumMissing
	}
	if len(parts) != 2 {
		return Record{}, fmt.Errorf("%w: multiple '*' delimiters", ErrChecksumMismatch)
	}
	payload, supplied := parts[0], parts[1]

	body := strings.TrimPrefix(payload, "$")
	if !strings.EqualFold(supplied, Checksum(body)) {
		return Record{}, fmt.Errorf("%w: computed %s, sentence has %q", ErrChecksumMismatch, Checksum(body), supplied)
	}

	if !strings.HasPrefix(payload, sentencePrefix) {
		return Record{}, fmt.Errorf("%w: not a GPGGA sentence", ErrMalformedSentence)
	}
	f := strings.Split(body, ",")
	if len(f) != fieldCountShort && len(f) != fieldCountFull {
		return Record{}, fmt.Errorf("%w: %d fields, want %d or %d", ErrMalformedSentence, len(f), fieldCountShort, fieldCountFull)
	}

	rec := Record{}

	tod, err := parseTimeOfDay(f[1])
	if err != nil {
		return Record{}, err
	}
	rec.TimeOfFix = tod

	rec.Latitude, err = parseCoordinate(f[2], f[3], "NS")
	if err != nil {
		return Record{}, err
	}
	rec.Longitude, err = parseCoordinate(f[4], f[5], "EW")
	if err != nil {
		return Record{}, err
	}

	if len(f[6]) != 1 || f[6][0] < '0' || f[6][0] > '9' {
		return Record{}, fmt.Errorf("%w: fix quality %q", ErrMalformedSentence, f[6])
	}
	rec.FixQuality = int(f[6][0] - '0')
	if rec.FixQuality > 8 {
		return Record{}, fmt.Errorf("%w: fix quality %d out of range 0-8", ErrInvalidField, rec.FixQuality)
	}

	if !isDigits(f[7]) {
		return Record{}, fmt.Errorf("%w: satellite count %q", ErrMalformedSentence, f[7])
	}
	rec.NumSatellites, _ = strconv.Atoi(f[7])

	if f[8] != "" {
		hdop, err := strconv.ParseFloat(f[8], 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: hdop %q", ErrMalformedSentence, f[8])
		}
		if hdop < 0 {
			return Record{}, fmt.Errorf("%w: hdop %v is negative", ErrInvalidField, hdop)
		}
		rec.HDOP = hdop
	}

	rec.Altitude, err = strconv.ParseFloat(f[9], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: altitude %q", ErrMalformedSentence, f[9])
	}
	if f[10] != "M" {
		return Record{}, fmt.Errorf("%w: altitude unit %q, want M", ErrMalformedSentence, f[10])
	}

	if f[11] != "" {
		g, err := strconv.ParseFloat(f[11], 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: geoid separation %q", ErrMalformedSentence, f[11])
		}
		rec.GeoidSeparation = &g
	}
	if f[12] != "" && f[12] != "M" {
		return Record{}, fmt.Errorf("%w: geoid unit %q", ErrMalformedSentence, f[12])
	}

	if f[13] != "" {
		age, err := strconv.ParseFloat(f[13], 64)
		if err != nil || age < 0 {
			return Record{}, fmt.Errorf("%w: dgps age %q", ErrMalformedSentence, f[13])
		}
		rec.DGPSAge = &age
	}
	if len(f) == fieldCountFull && f[14] != "" {
		if !isDigits(f[14]) {
			return Record{}, fmt.Errorf("%w: dgps station id %q", ErrMalformedSentence, f[14])
		}
		rec.DGPSStationID = f[14]
	}

	rec.DeviceID = strings.TrimSpace(f[len(f)-1])
	if rec.DeviceID == "" {
		return Record{}, fmt.Errorf("%w: empty device id", ErrMalformedSentence)
	}

	return rec, nil
}

// Checksum computes the NMEA checksum of payload (the text between '$' and
// '*') as two uppercase hex digits.
func Checksum(payload string) string {
	sum := byte(0)
	for i := 0; i < len(payload); i++ {
		sum ^= payload[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// parseTimeOfDay decodes hhmmss[.sss]. An empty field is not an error. A
// structurally wrong field is a malformed sentence; an out-of-range value
// (hour 25, minute 61) is logged and dropped, matching device firmware that
// occasionally emits garbage time while holding a good position.
func parseTimeOfDay(field string) (*TimeOfDay, error) {
	if field == "" {
		return nil, nil
	}
	intPart, frac, _ := strings.Cut(field, ".")
	if len(intPart) != 6 || !isDigits(intPart) || (frac != "" && !isDigits(frac)) {
		return nil, fmt.Errorf("%w: time %q", ErrMalformedSentence, field)
	}

	h, _ := strconv.Atoi(intPart[0:2])
	m, _ := strconv.Atoi(intPart[2:4])
	sec, _ := strconv.Atoi(intPart[4:6])
	if h > 23 || m > 59 || sec > 59 {
		slog.Warn("gpgga time of fix out of range, dropping field", "time", field)
		return nil, nil
	}

	us := 0
	if frac != "" {
		v, err := strconv.ParseFloat("0."+frac, 64)
		if err == nil {
			us = int(v * 1e6)
		}
	}
	return &TimeOfDay{Hour: h, Minute: m, Second: sec, Microsecond: us}, nil
}

// parseCoordinate decodes NMEA ddmm.mmmm (or dddmm.mmmm) plus hemisphere to
// signed decimal degrees. The last two digits before the decimal point are
// whole minutes; everything before that is whole degrees.
func parseCoordinate(v, hemi, allowed string) (float64, error) {
	if len(hemi) != 1 || !strings.Contains(allowed, hemi) {
		return 0, fmt.Errorf("%w: hemisphere %q, want one of %q", ErrMalformedSentence, hemi, allowed)
	}
	intPart, frac, hasDot := strings.Cut(v, ".")
	if !hasDot || intPart == "" || frac == "" || !isDigits(intPart) || !isDigits(frac) {
		return 0, fmt.Errorf("%w: coordinate %q", ErrMalformedSentence, v)
	}

	var deg int
	var mins float64
	if len(intPart) >= 2 {
		if len(intPart) > 2 {
			deg, _ = strconv.Atoi(intPart[:len(intPart)-2])
		}
		mins, _ = strconv.ParseFloat(intPart[len(intPart)-2:]+"."+frac, 64)
	} else {
		mins, _ = strconv.ParseFloat(v, 64)
	}

	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
