package zego

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	state   SensorState
	qerr    error
	reads   int
	readErr error
}

func (f *fakeSampler) QueryState() (SensorState, error) {
	if f.qerr != nil {
		return StateUnknown, f.qerr
	}
	return f.state, nil
}

func (f *fakeSampler) ReadResult() (*MeasurementResult, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.reads++
	return &MeasurementResult{Concentration: 20, Alarm: AlarmDrinking}, nil
}

func TestPoller_FetchesEachResultOnce(t *testing.T) {
	f := &fakeSampler{state: StateWaitingForBlow}
	p := NewPoller(f, time.Hour)

	var got []*MeasurementResult
	p.OnResult = func(r *MeasurementResult) { got = append(got, r) }

	p.poll()
	assert.Equal(t, 0, f.reads)

	f.state = StateResultReady
	p.poll()
	assert.Equal(t, 1, f.reads)
	require.Len(t, got, 1)
	assert.Equal(t, uint16(20), got[0].Concentration)

	// Same reading still pending on the device; must not be re-fetched.
	p.poll()
	p.poll()
	assert.Equal(t, 1, f.reads)

	// A new test cycle: state leaves result-ready, then a fresh result.
	f.state = StateIdle
	p.poll()
	f.state = StateResultReady
	p.poll()
	assert.Equal(t, 2, f.reads)
	assert.Len(t, got, 2)
}

func TestPoller_QueryFailureSkipsCycle(t *testing.T) {
	f := &fakeSampler{state: StateResultReady, qerr: errors.New("boom")}
	p := NewPoller(f, time.Hour)

	var failures int
	p.OnError = func(error) { failures++ }

	p.poll()
	p.poll()
	assert.Equal(t, 0, f.reads, "state unknown for the cycle, no fetch")
	assert.Equal(t, 2, failures)

	f.qerr = nil
	p.poll()
	assert.Equal(t, 1, f.reads)
}

func TestPoller_ReadFailureRetriesNextCycle(t *testing.T) {
	f := &fakeSampler{state: StateResultReady, readErr: errors.New("boom")}
	p := NewPoller(f, time.Hour)

	p.poll()
	assert.Equal(t, 0, f.reads)

	f.readErr = nil
	p.poll()
	assert.Equal(t, 1, f.reads, "an unconsumed result is retried on the next cycle")
}

func TestPoller_RunStop(t *testing.T) {
	f := &fakeSampler{state: StateIdle}
	p := NewPoller(f, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Stop()
	p.Stop() // idempotent

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestNewPoller_DefaultInterval(t *testing.T) {
	p := NewPoller(&fakeSampler{}, 0)
	assert.Equal(t, DefaultPollInterval, p.interval)
}
