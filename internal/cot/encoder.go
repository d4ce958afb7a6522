package cot

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gpgga-cot-relay/internal/gpgga"
)

// ErrConversion marks a non-recoverable per-message encoding failure. The
// same record deterministically fails again, so callers drop the event rather
// than retry.
var ErrConversion = errors.New("cot: conversion failed")

// timeLayout is the wire timestamp format: ISO-8601 UTC with microsecond
// precision and a literal Z.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// howByFixQuality maps GPGGA fix quality to the CoT how attribute.
var howByFixQuality = map[int]string{
	0: "h-g-i-g-o",
	1: "h-gps",
	2: "h-dgps",
	3: "h-pps",
	4: "h-rtk",
	5: "h-rtk",
	6: "h-e",
	7: "h-m",
	8: "h-s",
}

// baseErrorByFixQuality is the estimated position error in meters for each
// fix quality, before scaling by HDOP.
var baseErrorByFixQuality = map[int]float64{
	0: 9999.0,
	1: 5.0,
	2: 2.0,
	3: 1.0,
	4: 0.1,
	5: 0.5,
	6: 10.0,
	7: 50.0,
	8: 100.0,
}

const maxCircularError = 9999.0

// Event is an immutable CoT event. Attribute values are pre-formatted strings
// so the serialized form is fully determined at construction.
type Event struct {
	XMLName xml.Name `xml:"event"`
	Version string   `xml:"version,attr"`
	UID     string   `xml:"uid,attr"`
	Type    string   `xml:"type,attr"`
	Time    string   `xml:"time,attr"`
	Start   string   `xml:"start,attr"`
	Stale   string   `xml:"stale,attr"`
	How     string   `xml:"how,attr"`
	Point   Point    `xml:"point"`
	Detail  Detail   `xml:"detail"`
}

type Point struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	HAE string `xml:"hae,attr"`
	CE  string `xml:"ce,attr"`
	LE  string `xml:"le,attr"`
}

type Detail struct {
	Contact           Contact           `xml:"contact"`
	PrecisionLocation PrecisionLocation `xml:"precisionlocation"`
	Track             *Track            `xml:"track,omitempty"`
	GPS               GPSStatus         `xml:"__gps"`
	Device            DeviceInfo        `xml:"__device"`
	Remarks           string            `xml:"remarks"`
}

type Contact struct {
	Callsign string `xml:"callsign,attr"`
}

type PrecisionLocation struct {
	AltSrc      string `xml:"altsrc,attr"`
	GeopointSrc string `xml:"geopointsrc,attr"`
}

// Track is emitted only for records with a valid fix. GPGGA carries no course
// or speed, so both are reported as zero.
type Track struct {
	Course string `xml:"course,attr"`
	Speed  string `xml:"speed,attr"`
}

type GPSStatus struct {
	NumSats        string `xml:"numSats,attr"`
	HDOP           string `xml:"hdop,attr"`
	FixQuality     string `xml:"fixQuality,attr"`
	FixQualityDesc string `xml:"fixQualityDesc,attr"`
}

type DeviceInfo struct {
	UID  string `xml:"uid,attr"`
	Type string `xml:"type,attr"`
}

// Marshal serializes the event for the downstream wire. The returned bytes
// are not newline-terminated; the outbound link owns message framing.
func (ev *Event) Marshal() ([]byte, error) {
	b, err := xml.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	return b, nil
}

// Encoder converts position records into CoT events. It owns the process-wide
// device identity cache and is safe for concurrent use.
type Encoder struct {
	eventType string
	stale     time.Duration
	ids       *identityCache

	// onNewDevice, when set, fires once per device id for the life of the
	// cache, from whichever Encode call first sees the device.
	onNewDevice func(deviceID, uid string)
}

func NewEncoder(eventType string, stale time.Duration, onNewDevice func(deviceID, uid string)) *Encoder {
	return &Encoder{
		eventType:   eventType,
		stale:       stale,
		ids:         newIdentityCache(),
		onNewDevice: onNewDevice,
	}
}

// Encode builds the CoT event for rec stamped at now. Given a validated
// record this does not fail; serialization faults surface from Marshal as
// ErrConversion.
func (e *Encoder) Encode(rec gpgga.Record, now time.Time) *Event {
	uid, created := e.ids.lookup(rec.DeviceID)
	if created {
		slog.Info("new device seen", "device_id", rec.DeviceID, "uid", uid)
		if e.onNewDevice != nil {
			e.onNewDevice(rec.DeviceID, uid)
		}
	}

	ts := now.UTC().Format(timeLayout)
	stale := now.UTC().Add(e.stale).Format(timeLayout)
	ce := circularError(rec)

	ev := &Event{
		Version: "2.0",
		UID:     uid,
		Type:    e.eventType,
		Time:    ts,
		Start:   ts,
		Stale:   stale,
		How:     howAttribute(rec.FixQuality),
		Point: Point{
			Lat: formatFloat(rec.Latitude),
			Lon: formatFloat(rec.Longitude),
			HAE: formatFloat(rec.Altitude),
			CE:  formatFloat(ce),
			LE:  formatFloat(ce),
		},
		Detail: Detail{
			Contact:           Contact{Callsign: rec.DeviceID},
			PrecisionLocation: PrecisionLocation{AltSrc: "GPS", GeopointSrc: "GPS"},
			GPS: GPSStatus{
				NumSats:        strconv.Itoa(rec.NumSatellites),
				HDOP:           formatFloat(rec.HDOP),
				FixQuality:     strconv.Itoa(rec.FixQuality),
				FixQualityDesc: rec.FixQualityDescription(),
			},
			Device:  DeviceInfo{UID: rec.DeviceID, Type: "GPS Tracker"},
			Remarks: remarks(rec),
		},
	}
	if rec.HasValidFix() {
		ev.Detail.Track = &Track{Course: "0.0", Speed: "0.0"}
	}
	return ev
}

// KnownDevices reports the size of the identity cache. The cache is never
// evicted for the life of the process.
func (e *Encoder) KnownDevices() int {
	return e.ids.size()
}

func howAttribute(fixQuality int) string {
	if how, ok := howByFixQuality[fixQuality]; ok {
		return how
	}
	return "h-gps"
}

// circularError estimates horizontal position uncertainty in meters from the
// fix quality base error scaled by HDOP, clamped to maxCircularError.
func circularError(rec gpgga.Record) float64 {
	base, ok := baseErrorByFixQuality[rec.FixQuality]
	if !ok {
		base = 10.0
	}
	if rec.HDOP > 0 {
		ce := base * rec.HDOP
		if ce > maxCircularError {
			return maxCircularError
		}
		return ce
	}
	return base
}

func remarks(rec gpgga.Record) string {
	s := "GPGGA Device: " + rec.DeviceID
	if rec.TimeOfFix != nil {
		s += ", GPS Time: " + rec.TimeOfFix.String()
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
