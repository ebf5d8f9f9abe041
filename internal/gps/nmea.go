package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"navtrack/internal/nav"
)

const (
	knotsToMPS = 0.514444444444444

	// uereM scales HDOP to a horizontal accuracy estimate for receivers that
	// do not report one.
	uereM = 5.0
)

// update is what a parsed report did to the receiver state.
type update int

const (
	updateNone update = iota
	updateFix
	updateLost
)

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	typeField := parts[0]
	if len(typeField) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GNRMC, GPRMC, ... all map to RMC.
	return nmeaSentence{Type: strings.ToUpper(typeField[len(typeField)-3:]), Fields: parts}, nil
}

// nmeaState accumulates RMC and GGA data. Only RMC emits a fix: it carries
// speed and course, and receivers send it once per epoch. GGA fills in
// altitude and HDOP for the next RMC.
type nmeaState struct {
	latDeg float64
	lonDeg float64
	posOK  bool

	speedMPS float64
	speedOK  bool
	course   float64
	courseOK bool

	altM  float64
	altOK bool

	hdop   float64
	hdopOK bool

	valid bool
}

func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) (nav.Fix, update) {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		s.applyGGA(sent.Fields)
	}
	return nav.Fix{}, updateNone
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) (nav.Fix, update) {
	if len(f) < 10 {
		return nav.Fix{}, updateNone
	}
	if strings.TrimSpace(f[2]) != "A" {
		if s.valid {
			s.valid = false
			return nav.Fix{}, updateLost
		}
		return nav.Fix{}, updateNone
	}

	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !latOK || !lonOK {
		return nav.Fix{}, updateNone
	}
	s.latDeg, s.lonDeg, s.posOK = lat, lon, true

	s.speedMPS, s.speedOK = 0, false
	if kt, ok := parseFloat(f[7]); ok && kt >= 0 {
		s.speedMPS = kt * knotsToMPS
		s.speedOK = true
	}
	s.course, s.courseOK = 0, false
	if trk, ok := parseFloat(f[8]); ok {
		s.course = math.Mod(trk+360.0, 360.0)
		s.courseOK = true
	}

	ts := nowUTC
	if t, ok := parseNMEATime(f[1], f[9]); ok {
		ts = t
	}
	s.valid = true
	return s.fix(ts), updateFix
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
//
// 10: units (M)
func (s *nmeaState) applyGGA(f []string) {
	if len(f) < 11 {
		return
	}
	q := strings.TrimSpace(f[6])
	if q == "" || q == "0" {
		return
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.hdop, s.hdopOK = hdop, true
	}
	if altM, ok := parseFloat(f[9]); ok {
		s.altM, s.altOK = altM, true
	}
}

func (s *nmeaState) fix(ts time.Time) nav.Fix {
	f := nav.Fix{LatDeg: s.latDeg, LonDeg: s.lonDeg, Time: ts}
	if s.hdopOK {
		f.AccuracyM = s.hdop * uereM
	}
	if s.altOK {
		f.AltitudeM = nav.Float(s.altM)
	}
	if s.speedOK {
		f.SpeedMPS = nav.Float(s.speedMPS)
	}
	// Course over ground is noise when stationary.
	if s.courseOK && s.speedOK && s.speedMPS > 0 {
		f.HeadingDeg = nav.Float(s.course)
	}
	return f
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEATime combines RMC hhmmss(.sss) and ddmmyy into a UTC time.
func parseNMEATime(hms, dmy string) (time.Time, bool) {
	hms, dmy = strings.TrimSpace(hms), strings.TrimSpace(dmy)
	if len(hms) < 6 || len(dmy) != 6 {
		return time.Time{}, false
	}
	t, err := time.Parse("020106150405", dmy+hms[:6])
	if err != nil {
		return time.Time{}, false
	}
	if len(hms) > 7 && hms[6] == '.' {
		if frac, err := strconv.ParseFloat("0"+hms[6:], 64); err == nil {
			t = t.Add(time.Duration(frac * float64(time.Second)))
		}
	}
	return t.UTC(), true
}

// parseNMEALatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil || mins >= 60 {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
