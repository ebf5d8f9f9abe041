package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"navtrack/internal/route"
)

// ParseCoord parses "lat,lon" into a (lon, lat) point.
func ParseCoord(input string) (orb.Point, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return orb.Point{}, fmt.Errorf("invalid coordinate: %s", input)
	}

	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return orb.Point{}, fmt.Errorf("invalid lat/lon: %s", input)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return orb.Point{}, fmt.Errorf("lat/lon out of range: %s", input)
	}
	return orb.Point{lon, lat}, nil
}

// Client fetches precomputed routes from an OSRM server.
type Client struct {
	BaseURL string
	// Profile is the OSRM routing profile; "driving" when empty.
	Profile string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Profile: "driving",
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type osrmManeuver struct {
	Type     string `json:"type"`
	Modifier string `json:"modifier"`
	Exit     int    `json:"exit"`
}

type osrmStep struct {
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Name     string       `json:"name"`
	Ref      string       `json:"ref"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Legs []struct {
			Steps []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route requests a route from source to target and converts the first
// alternative into a route.Route.
func (c *Client) Route(ctx context.Context, source, target orb.Point) (*route.Route, error) {
	if c == nil {
		return nil, fmt.Errorf("osrm client is nil")
	}
	if c.BaseURL == "" {
		return nil, fmt.Errorf("osrm base url is empty")
	}
	profile := c.Profile
	if profile == "" {
		profile = "driving"
	}
	q := url.Values{}
	q.Set("overview", "full")
	q.Set("geometries", "geojson")
	q.Set("steps", "true")
	u := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?%s",
		c.BaseURL, url.PathEscape(profile), source.Lon(), source.Lat(), target.Lon(), target.Lat(), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("osrm read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decode(body)
}

func decode(body []byte) (*route.Route, error) {
	var parsed osrmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("osrm json decode failed: %w", err)
	}
	if parsed.Code != "" && parsed.Code != "Ok" {
		return nil, fmt.Errorf("osrm code %s: %s", parsed.Code, parsed.Message)
	}
	if len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("osrm returned no routes: %w", route.ErrInvalidRoute)
	}
	first := parsed.Routes[0]

	r := &route.Route{}
	for _, pair := range first.Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		r.Geometry = append(r.Geometry, orb.Point{pair[0], pair[1]})
	}
	for _, leg := range first.Legs {
		for _, s := range leg.Steps {
			r.Steps = append(r.Steps, route.Step{
				Instruction: Instruction(s.Maneuver.Type, s.Maneuver.Modifier, s.Maneuver.Exit, roadName(s)),
				DistanceM:   s.Distance,
				DurationS:   s.Duration,
				Maneuver:    s.Maneuver.Type,
				RoadName:    roadName(s),
			})
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func roadName(s osrmStep) string {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return strings.TrimSpace(s.Ref)
	}
	return name
}

// Instruction renders short English text for an OSRM maneuver.
func Instruction(typ, modifier string, exit int, road string) string {
	onto := ""
	if road != "" {
		onto = " onto " + road
	}
	mod := strings.TrimSpace(modifier)
	switch typ {
	case "depart":
		if road != "" {
			return "Head out on " + road
		}
		return "Head out"
	case "arrive":
		if mod == "left" || mod == "right" {
			return "Arrive at your destination on the " + mod
		}
		return "Arrive at your destination"
	case "turn", "end of road":
		if mod == "" {
			return "Turn" + onto
		}
		if mod == "uturn" {
			return "Make a U-turn" + onto
		}
		return "Turn " + mod + onto
	case "new name", "continue", "notification":
		return "Continue" + onto
	case "merge":
		return "Merge" + onto
	case "on ramp":
		return "Take the ramp" + onto
	case "off ramp":
		return "Take the exit" + onto
	case "fork":
		if mod == "" {
			return "Keep straight at the fork" + onto
		}
		return "Keep " + strings.TrimPrefix(mod, "slight ") + " at the fork" + onto
	case "roundabout", "rotary":
		if exit > 0 {
			return fmt.Sprintf("At the roundabout take exit %d%s", exit, onto)
		}
		return "Enter the roundabout" + onto
	case "exit roundabout", "exit rotary":
		return "Exit the roundabout" + onto
	default:
		if mod != "" {
			return "Go " + mod + onto
		}
		return "Continue" + onto
	}
}
