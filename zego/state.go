package zego

import (
	"fmt"
	"strconv"
)

// SensorState is the measurement state as reported by the sensor. It is
// only ever set from a state query response, never inferred locally.
type SensorState byte

const (
	StateUnknown         SensorState = 0x00 // nothing confirmed by the sensor yet
	StateIdle            SensorState = 0x31
	StatePreheating      SensorState = 0x32
	StateWaitingForBlow  SensorState = 0x33
	StateBlowing         SensorState = 0x34
	StateBlowInterrupted SensorState = 0x35
	StateCalculating     SensorState = 0x36
	StateResultReady     SensorState = 0x37
)

// known reports whether s is one of the documented status codes.
func (s SensorState) known() bool {
	return s >= StateIdle && s <= StateResultReady
}

func (s SensorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreheating:
		return "preheating"
	case StateWaitingForBlow:
		return "waiting for blow"
	case StateBlowing:
		return "blowing"
	case StateBlowInterrupted:
		return "blow interrupted"
	case StateCalculating:
		return "calculating"
	case StateResultReady:
		return "result ready"
	}
	return fmt.Sprintf("unknown (0x%02x)", byte(s))
}

func (s SensorState) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// AlarmLevel classifies a measurement against the sensor's configured
// thresholds.
type AlarmLevel byte

const (
	AlarmNone     AlarmLevel = 0x00 // below the drinking threshold
	AlarmDrinking AlarmLevel = 0x01
	AlarmDrunk    AlarmLevel = 0x02
)

func (a AlarmLevel) String() string {
	switch a {
	case AlarmNone:
		return "none"
	case AlarmDrinking:
		return "drinking"
	case AlarmDrunk:
		return "drunk"
	}
	return fmt.Sprintf("unknown (0x%02x)", byte(a))
}

func (a AlarmLevel) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

// MeasurementResult is one completed reading fetched from the sensor.
type MeasurementResult struct {
	// Concentration in mg/100ml.
	Concentration uint16     `json:"concentration"`
	Alarm         AlarmLevel `json:"alarm"`
}

// ThresholdPair holds the alarm thresholds configured in the sensor, in
// mg/100ml.
type ThresholdPair struct {
	Drinking byte `json:"drinking"`
	Drunk    byte `json:"drunk"`
}

// Blow duration limits accepted by the sensor, in seconds.
const (
	MinBlowTime = 1
	MaxBlowTime = 10
)
