package cot

// Package cot builds Cursor-on-Target position events from parsed GPGGA
// records.
//
// Events are point-in-time reports: stamped with local wall-clock time, valid
// until a configured staleness horizon, and serialized to XML for the TAK
// wire. Device identity is derived deterministically (UUIDv5 over the device
// id), so the same tracker keeps its identity across relay restarts without
// any persisted state.
