// Package h02 decodes the H02 tracker wire protocol into typed events.
//
// Decoding is pure: bytes in, a typed event or a descriptive error out. The
// package performs no I/O and holds no state, so it can be exercised directly
// against captured frames.
package h02

import (
	"encoding/json"
	"fmt"
	"time"
)

// Protocol identifies the wire protocol a frame was decoded from. Only H02 is
// implemented; the constant exists so routing keys stay stable if more
// protocols are added.
const Protocol = "h02"

// EventType tags a decoded event for downstream routing.
type EventType string

const (
	EventLocation  EventType = "location"
	EventHeartbeat EventType = "heartbeat"
)

// DecodedEvent is the result of decoding one H02 frame.
type DecodedEvent struct {
	EventType EventType

	// IMEI of the tracker that sent the frame.
	IMEI string

	// Location is set for EventLocation frames, nil otherwise.
	Location *LocationMessage

	// Response holds bytes to write back to the device. No currently
	// decoded message type produces one, but command/ack message types
	// will, so handlers must honour it.
	Response []byte
}

// RoutingKey returns the topic routing key for this event:
// {protocol}.{eventType}.{imei}.
func (e *DecodedEvent) RoutingKey() string {
	return fmt.Sprintf("%s.%s.%s", Protocol, e.EventType, e.IMEI)
}

// Body returns the serialized event payload to publish on the broker.
func (e *DecodedEvent) Body() ([]byte, error) {
	switch e.EventType {
	case EventLocation:
		return json.Marshal(e.Location)
	case EventHeartbeat:
		return json.Marshal(HeartbeatMessage{IMEI: e.IMEI})
	default:
		return nil, fmt.Errorf("no body serialization for event type %q", e.EventType)
	}
}

// HeartbeatMessage is the payload of a HTBT keep-alive frame.
type HeartbeatMessage struct {
	IMEI string `json:"imei"`
}

// LocationMessage is the payload of a V1 position report.
type LocationMessage struct {
	// Latitude in decimal degrees, [-90, 90].
	Lat float64 `json:"lat"`

	// Longitude in decimal degrees, [-180, 180].
	Lng float64 `json:"lng"`

	// Speed in km/h, converted from the knots the device reports.
	Speed float64 `json:"speed"`

	Status Status `json:"status"`

	// Direction in degrees, 0 = north, 180 = south.
	Direction int `json:"direction"`

	// Timestamp the device recorded the position at, UTC.
	Timestamp time.Time `json:"timestamp"`
}

// Status is the fixed table of alarm and sensor bits carried in the four
// status bytes of a V1 frame. Bit positions follow the protocol manual:
// byte 1 maps to bits 0-7, byte 2 to bits 8-15 and so on. Bits 19 and 20
// are reserved by the protocol and have no field.
type Status struct {
	// byte 1
	TemperatureAlarm           bool `json:"temperature_alarm"`
	ThreeTimesPassErrorAlarm   bool `json:"three_times_pass_error_alarm"`
	GPRSOcclusionAlarm         bool `json:"gprs_occlusion_alarm"`
	OilAndEngineCutOff         bool `json:"oil_and_engine_cut_off"`
	StorageBatteryRemovalState bool `json:"storage_battery_removal_state"`
	HighLevelSensor1           bool `json:"high_level_sensor1"`
	HighLevelSensor2           bool `json:"high_level_sensor2"`
	LowLevelSensor1BondStrap   bool `json:"low_level_sensor1_bond_strap"`

	// byte 2
	GPSReceiverFaultAlarm         bool `json:"gps_receiver_fault_alarm"`
	AnalogQuantityTransfinitAlarm bool `json:"analog_quantity_transfinit_alarm"`
	SOSAlarm                      bool `json:"sos_alarm"`
	HostPoweredByBackupBattery    bool `json:"host_powered_by_backup_battery"`
	StorageBatteryRemoved         bool `json:"storage_battery_removed"`
	OpenCircuitForGPSAntenna      bool `json:"open_circuit_for_gps_antenna"`
	ShortCircuitForGPSAntenna     bool `json:"short_circuit_for_gps_antenna"`
	LowLevelSensor2BondStrap      bool `json:"low_level_sensor2_bond_strap"`

	// byte 3 (bits 19 and 20 reserved)
	DoorOpen         bool `json:"door_open"`
	VehicleFortified bool `json:"vehicle_fortified"`
	ACC              bool `json:"acc"`
	Engine           bool `json:"engine"`
	CustomAlarm      bool `json:"custom_alarm"`
	Overspeed        bool `json:"overspeed"`

	// byte 4
	TheftAlarm                  bool `json:"theft_alarm"`
	RobberyAlarm                bool `json:"roberry_alarm"`
	OverspeedAlarm              bool `json:"overspeed_alarm"`
	IllegalIgnitionAlarm        bool `json:"illegal_ignition_alarm"`
	NoEntryCrossBorderAlarmIn   bool `json:"no_entry_cross_border_alarm_in"`
	GPSAntennaOpenCircuitAlarm  bool `json:"gps_antenna_open_circuit_alarm"`
	GPSAntennaShortCircuitAlarm bool `json:"gps_antenna_short_circuit_alarm"`
	NoEntryCrossBorderAlarmOut  bool `json:"no_entry_cross_border_alarm_out"`
}
