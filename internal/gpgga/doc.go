package gpgga

// Package gpgga parses the extended GPGGA sentence emitted by field GPS
// trackers.
//
// The sentence is standard NMEA GPGGA with one non-standard extension: a
// free-text device identifier field inserted between the DGPS station id and
// the checksum. Checksum verification happens before any structural parsing;
// a corrupted sentence is never interpreted.
