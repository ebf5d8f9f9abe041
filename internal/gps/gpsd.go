package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"navtrack/internal/nav"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`

	// Estimated position errors (meters) when available.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
}

type gpsdSKY struct {
	Class string   `json:"class"`
	HDOP  *float64 `json:"hdop"`
}

type gpsdState struct {
	hdop   float64
	hdopOK bool
	valid  bool
}

func (s *gpsdState) applyLine(nowUTC time.Time, line string) (nav.Fix, update, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return nav.Fix{}, updateNone, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return nav.Fix{}, updateNone, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		f, u := s.applyTPV(nowUTC, tpv)
		return f, u, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return nav.Fix{}, updateNone, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		if sky.HDOP != nil {
			s.hdop, s.hdopOK = *sky.HDOP, true
		}
		return nav.Fix{}, updateNone, nil
	default:
		// VERSION, DEVICES, WATCH and friends.
		return nav.Fix{}, updateNone, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) (nav.Fix, update) {
	if tpv.Mode == nil {
		return nav.Fix{}, updateNone
	}
	// mode: 0 unknown, 1 no fix, 2 2D, 3 3D.
	if *tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		if s.valid {
			s.valid = false
			return nav.Fix{}, updateLost
		}
		return nav.Fix{}, updateNone
	}

	f := nav.Fix{LatDeg: *tpv.Lat, LonDeg: *tpv.Lon, Time: nowUTC}
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			f.Time = t.UTC()
		}
	}

	switch {
	case tpv.Eph != nil:
		f.AccuracyM = *tpv.Eph
	case tpv.Epx != nil && tpv.Epy != nil:
		f.AccuracyM = math.Sqrt((*tpv.Epx)*(*tpv.Epx) + (*tpv.Epy)*(*tpv.Epy))
	case s.hdopOK:
		f.AccuracyM = s.hdop * uereM
	}

	if tpv.SpeedMS != nil && *tpv.SpeedMS >= 0 {
		f.SpeedMPS = nav.Float(*tpv.SpeedMS)
	}
	if tpv.Track != nil && (f.SpeedMPS == nil || *f.SpeedMPS > 0) {
		f.HeadingDeg = nav.Float(math.Mod(*tpv.Track+360.0, 360.0))
	}
	alt := tpv.AltMSL
	if alt == nil {
		alt = tpv.Alt
	}
	if alt != nil && *tpv.Mode >= 3 {
		f.AltitudeM = nav.Float(*alt)
	}

	s.valid = true
	return f, updateFix
}
