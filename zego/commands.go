package zego

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pause between state queries when waiting for the sensor to reach a
// wanted state.
const statePollPause = 500 * time.Millisecond

// exchange performs one full request/response round trip: drain stale
// bytes, transmit, wait the settling delay, read and validate the
// reply, and match the echoed opcode. Failures are returned unchanged;
// retrying is deliberately left to the caller.
func (o *Device) exchange(opcode byte, data [5]byte, settle time.Duration) (Frame, error) {
	o.cmdLock.Lock()
	defer o.cmdLock.Unlock()

	o.drain()

	req := Frame{Opcode: opcode, Data: data}
	exchangesTotal.WithLabelValues(opcodeName(opcode)).Inc()

	n, err := o.write(req.Bytes())
	if err != nil {
		return Frame{}, countFailure(fmt.Errorf("send 0x%02x: %w", opcode, err))
	}
	if n < FrameSize {
		return Frame{}, countFailure(fmt.Errorf("send 0x%02x: %w", opcode, io.ErrShortWrite))
	}

	// The sensor does not start answering until the whole command has
	// arrived, then needs time to process it.
	select {
	case <-time.After(settle):
	case <-o.done:
		return Frame{}, io.EOF
	}

	raw, err := o.readFrame()
	if err != nil {
		return Frame{}, countFailure(err)
	}
	resp, err := ParseFrame(raw)
	if err != nil {
		return Frame{}, countFailure(err)
	}
	if resp.Opcode != opcode {
		return Frame{}, countFailure(&UnexpectedOpcodeError{Want: opcode, Got: resp.Opcode})
	}
	return resp, nil
}

// QueryState asks the sensor for its current measurement state and
// records it as the last confirmed state.
func (o *Device) QueryState() (SensorState, error) {
	resp, err := o.exchange(OpQueryState, [5]byte{}, o.SettleDelay)
	if err != nil {
		return StateUnknown, err
	}
	s := SensorState(resp.Data[0])
	if !s.known() {
		log.Warnf("sensor reported unrecognized status byte 0x%02x", byte(s))
	}
	o.setStatus(s)
	log.Debugf("sensor state: %v", s)
	return s, nil
}

// Ping checks that the sensor answers at all, without interpreting the
// state beyond recording it.
func (o *Device) Ping() error {
	_, err := o.QueryState()
	return err
}

// ReadResult fetches a completed measurement. It is only legal while
// the sensor reports result-ready; check ResultAvailable first.
func (o *Device) ReadResult() (*MeasurementResult, error) {
	if s := o.Status(); s != StateResultReady {
		return nil, fmt.Errorf("%w: read result requires %v, sensor is %v", ErrInvalidState, StateResultReady, s)
	}
	resp, err := o.exchange(OpReadResult, [5]byte{}, o.SettleDelay)
	if err != nil {
		return nil, err
	}
	res := &MeasurementResult{
		Concentration: binary.BigEndian.Uint16(resp.Data[0:2]),
		Alarm:         AlarmLevel(resp.Data[4]),
	}
	log.Infof("measurement: %d mg/100ml, alarm %v", res.Concentration, res.Alarm)
	return res, nil
}

// BeginTest commands the sensor into preheating, starting a new
// measurement cycle. The manual only allows this from idle or
// result-ready, so any other confirmed state fails locally without a
// frame being sent. After an accepted change the sensor advances
// through waiting-for-blow, blowing and calculating on its own; those
// transitions are only ever observed via QueryState.
//
// The returned flag is the sensor's own accept/reject answer. A
// rejection is a normal device-side outcome, not a protocol failure.
func (o *Device) BeginTest() (bool, error) {
	s := o.Status()
	if s != StateIdle && s != StateResultReady {
		return false, fmt.Errorf("%w: begin test requires %v or %v, sensor is %v", ErrInvalidState, StateIdle, StateResultReady, s)
	}
	// After a result is read the sensor drops back to idle on its
	// own. Give it a bounded chance to get there before commanding
	// preheat; the sensor's accept/reject answer still decides.
	if s != StateIdle {
		if err := o.WaitForState(StateIdle, o.IdleWait); err != nil {
			log.Warnf("starting test without idle confirmation: %v", err)
		}
	}
	resp, err := o.exchange(OpChangeState, [5]byte{byte(StatePreheating)}, o.WriteDelay)
	if err != nil {
		return false, err
	}
	if resp.Data[0] != 0x01 {
		log.Warnf("state change to %v rejected: 0x%02x", StatePreheating, resp.Data[0])
		return false, nil
	}
	log.Infof("preheating started")
	return true, nil
}

// WaitForState polls the sensor until it confirms the wanted state or
// the timeout passes. Individual query failures just count as "state
// unknown" for that attempt.
func (o *Device) WaitForState(want SensorState, timeout time.Duration) error {
	t0 := time.Now()
	for time.Since(t0) < timeout {
		s, err := o.QueryState()
		if err != nil {
			log.Warnf("state poll while waiting for %v: %v", want, err)
		} else if s == want {
			return nil
		}
		select {
		case <-time.After(statePollPause):
		case <-o.done:
			return io.EOF
		}
	}
	return fmt.Errorf("timed out waiting for sensor state %v", want)
}

// GetBlowTime reads the configured blow duration in seconds.
func (o *Device) GetBlowTime() (int, error) {
	resp, err := o.exchange(OpReadBlowTime, [5]byte{}, o.SettleDelay)
	if err != nil {
		return 0, err
	}
	return int(resp.Data[0]), nil
}

// SetBlowTime writes the blow duration. The sensor accepts 1 to 10
// seconds; anything else fails locally before a single byte is sent.
// The returned flag is the sensor's accept/reject answer.
func (o *Device) SetBlowTime(seconds int) (bool, error) {
	if seconds < MinBlowTime || seconds > MaxBlowTime {
		return false, fmt.Errorf("%w: %d", ErrOutOfRange, seconds)
	}
	resp, err := o.exchange(OpWriteBlowTime, [5]byte{byte(seconds)}, o.WriteDelay)
	if err != nil {
		return false, err
	}
	if resp.Data[0] != 0x01 {
		log.Warnf("blow time change to %ds rejected: 0x%02x", seconds, resp.Data[0])
		return false, nil
	}
	return true, nil
}

// QueryThresholds reads the drinking and drunk alarm thresholds.
func (o *Device) QueryThresholds() (ThresholdPair, error) {
	resp, err := o.exchange(OpQueryThresholds, [5]byte{}, o.SettleDelay)
	if err != nil {
		return ThresholdPair{}, err
	}
	return ThresholdPair{Drinking: resp.Data[0], Drunk: resp.Data[1]}, nil
}
