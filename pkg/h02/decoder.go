package h02

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	framePrefix = "*HQ"
	frameSuffix = "#"

	msgIDLocation  = "V1"
	msgIDHeartbeat = "HTBT"
)

// knotsToKmh converts the speed unit the protocol reports in.
const knotsToKmh = 1.852

// Decode parses one H02 frame into a typed event.
//
// A frame is the comma-separated field list between the literal "*HQ" prefix
// and the "#" terminator; the message type token sits at field index 1 and
// selects the parser. Every failure returns a descriptive error naming the
// field that could not be parsed; Decode never panics on malformed input.
func Decode(raw []byte) (*DecodedEvent, error) {
	frame, err := messageFrame(string(raw))
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, p := range strings.Split(frame, ",") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	if len(parts) < 2 {
		return nil, fmt.Errorf("cannot determine message type: frame has %d fields", len(parts))
	}

	switch parts[1] {
	case msgIDHeartbeat:
		return decodeHeartbeat(parts)
	case msgIDLocation:
		return decodeLocation(parts)
	default:
		return nil, fmt.Errorf("unknown message type %q", parts[1])
	}
}

// messageFrame returns the field list between the frame delimiters.
func messageFrame(s string) (string, error) {
	start := strings.Index(s, framePrefix)
	if start < 0 {
		return "", fmt.Errorf("required %s message prefix not present", framePrefix)
	}
	start += len(framePrefix)

	end := strings.Index(s, frameSuffix)
	if end < 0 {
		return "", fmt.Errorf("required %s message suffix not present", frameSuffix)
	}
	if end < start {
		return "", fmt.Errorf("%s message suffix precedes the %s prefix", frameSuffix, framePrefix)
	}

	return s[start:end], nil
}

func decodeHeartbeat(parts []string) (*DecodedEvent, error) {
	return &DecodedEvent{
		EventType: EventHeartbeat,
		IMEI:      parts[0],
	}, nil
}

// locationFields indexes the fields of a V1 position report.
type locationFields struct {
	imei         string
	timeOfDay    string
	dataValidBit string
	lat          string
	latHemi      string
	lng          string
	lngHemi      string
	speed        string
	direction    string
	date         string
	status       string
}

func decodeLocation(parts []string) (*DecodedEvent, error) {
	if len(parts) < 12 {
		return nil, fmt.Errorf("incomplete location message: %d of 12 required fields", len(parts))
	}

	f := locationFields{
		imei:         parts[0],
		timeOfDay:    parts[2],
		dataValidBit: parts[3],
		lat:          parts[4],
		latHemi:      parts[5],
		lng:          parts[6],
		lngHemi:      parts[7],
		speed:        parts[8],
		direction:    parts[9],
		date:         parts[10],
		status:       parts[11],
	}

	msg, err := f.decode()
	if err != nil {
		return nil, err
	}

	return &DecodedEvent{
		EventType: EventLocation,
		IMEI:      f.imei,
		Location:  msg,
	}, nil
}

func (f *locationFields) decode() (*LocationMessage, error) {
	// A GPS fix flagged anything other than "A" carries junk coordinates.
	// Reject it loudly rather than persist a zeroed position.
	if f.dataValidBit != "A" {
		return nil, fmt.Errorf("invalid location data (data valid bit %q != A)", f.dataValidBit)
	}

	lat, err := f.parseLat()
	if err != nil {
		return nil, err
	}
	lng, err := f.parseLng()
	if err != nil {
		return nil, err
	}
	speed, err := f.parseSpeed()
	if err != nil {
		return nil, err
	}
	direction, err := f.parseDirection()
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(f.status)
	if err != nil {
		return nil, err
	}
	timestamp, err := f.parseTimestamp()
	if err != nil {
		return nil, err
	}

	return &LocationMessage{
		Lat:       lat,
		Lng:       lng,
		Speed:     speed,
		Status:    *status,
		Direction: direction,
		Timestamp: timestamp,
	}, nil
}

func (f *locationFields) parseLat() (float64, error) {
	lat, err := degreesMinutes(f.lat, 2, -90, 90)
	if err != nil {
		return 0, fmt.Errorf("latitude: %w", err)
	}
	if f.latHemi == "S" || f.latHemi == "s" {
		lat = -lat
	}
	return lat, nil
}

func (f *locationFields) parseLng() (float64, error) {
	lng, err := degreesMinutes(f.lng, 3, -180, 180)
	if err != nil {
		return 0, fmt.Errorf("longitude: %w", err)
	}
	if f.lngHemi == "W" || f.lngHemi == "w" {
		lng = -lng
	}
	return lng, nil
}

func (f *locationFields) parseSpeed() (float64, error) {
	knots, err := strconv.ParseFloat(f.speed, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse speed %q as float", f.speed)
	}
	return knots * knotsToKmh, nil
}

func (f *locationFields) parseDirection() (int, error) {
	d, err := strconv.Atoi(f.direction)
	if err != nil {
		return 0, fmt.Errorf("failed to parse direction degrees %q as int", f.direction)
	}
	return d, nil
}

// parseTimestamp composes an ISO-8601 UTC instant from the 6-digit ddmmyy
// date and hhmmss time-of-day fields.
func (f *locationFields) parseTimestamp() (time.Time, error) {
	if len(f.date) < 6 {
		return time.Time{}, fmt.Errorf("cannot parse date %q outside expected ddmmyy format", f.date)
	}
	if len(f.timeOfDay) < 6 {
		return time.Time{}, fmt.Errorf("cannot parse time %q outside expected hhmmss format", f.timeOfDay)
	}

	iso := "20" + f.date[4:6] + "-" + f.date[2:4] + "-" + f.date[0:2] +
		"T" + f.timeOfDay[0:2] + ":" + f.timeOfDay[2:4] + ":" + f.timeOfDay[4:6] + "Z"

	ts, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q", iso)
	}
	return ts, nil
}

// degreesMinutes converts a H02 coordinate string to decimal degrees. The
// first degreeDigits characters are whole degrees, the remainder decimal
// minutes: decimal = degrees + minutes/60.
func degreesMinutes(s string, degreeDigits int, minDeg, maxDeg float64) (float64, error) {
	if len(s) < degreeDigits {
		return 0, fmt.Errorf("coordinate %q has fewer than %d degree digits", s, degreeDigits)
	}

	degrees, err := strconv.ParseFloat(s[:degreeDigits], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse degrees of coordinate %q", s)
	}
	if degrees < minDeg || degrees >= maxDeg {
		return 0, fmt.Errorf("coordinate degrees %v out of bounds [%v..%v]", degrees, minDeg, maxDeg)
	}

	var minutes float64
	if rest := s[degreeDigits:]; rest != "" {
		minutes, err = strconv.ParseFloat(rest, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse minutes of coordinate %q", s)
		}
	}
	if minutes < 0 || minutes >= 60 {
		return 0, fmt.Errorf("coordinate minutes %v not between bounds [0..60)", minutes)
	}

	return degrees + minutes/60, nil
}

// parseStatus hex-decodes the four status bytes and maps their 32 bits onto
// the named fields of Status. Bit 0 is the most significant bit of byte 1.
func parseStatus(s string) (*Status, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to hex-decode status %q", s)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("status %q decodes to %d bytes, 4 required", s, len(raw))
	}

	b := func(i int) bool {
		return raw[i/8]&(1<<(7-i%8)) != 0
	}

	return &Status{
		TemperatureAlarm:           b(0),
		ThreeTimesPassErrorAlarm:   b(1),
		GPRSOcclusionAlarm:         b(2),
		OilAndEngineCutOff:         b(3),
		StorageBatteryRemovalState: b(4),
		HighLevelSensor1:           b(5),
		HighLevelSensor2:           b(6),
		LowLevelSensor1BondStrap:   b(7),

		GPSReceiverFaultAlarm:         b(8),
		AnalogQuantityTransfinitAlarm: b(9),
		SOSAlarm:                      b(10),
		HostPoweredByBackupBattery:    b(11),
		StorageBatteryRemoved:         b(12),
		OpenCircuitForGPSAntenna:      b(13),
		ShortCircuitForGPSAntenna:     b(14),
		LowLevelSensor2BondStrap:      b(15),

		DoorOpen:         b(16),
		VehicleFortified: b(17),
		ACC:              b(18),
		// bits 19 and 20 are reserved
		Engine:      b(21),
		CustomAlarm: b(22),
		Overspeed:   b(23),

		TheftAlarm:                  b(24),
		RobberyAlarm:                b(25),
		OverspeedAlarm:              b(26),
		IllegalIgnitionAlarm:        b(27),
		NoEntryCrossBorderAlarmIn:   b(28),
		GPSAntennaOpenCircuitAlarm:  b(29),
		GPSAntennaShortCircuitAlarm: b(30),
		NoEntryCrossBorderAlarmOut:  b(31),
	}, nil
}
