// Package gps turns a GNSS receiver into a nav.Provider.
//
// Two sources are supported:
//   - NMEA RMC+GGA read directly from a USB serial receiver
//   - gpsd JSON reports (TPV, SKY) over TCP
//
// Fixes are published in SI units. Feed failures are reported through the
// provider error callback and the reader keeps retrying with backoff.
package gps
