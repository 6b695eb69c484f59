package zego

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPollInterval is the cadence at which the sensor state is
// checked in the background.
const DefaultPollInterval = 3 * time.Second

// Sampler is the slice of Device the poller needs.
type Sampler interface {
	QueryState() (SensorState, error)
	ReadResult() (*MeasurementResult, error)
}

// Poller periodically queries the sensor state and fetches each
// completed measurement exactly once. A failed exchange means "state
// unknown for this cycle"; the poller never stops on one.
type Poller struct {
	dev      Sampler
	interval time.Duration

	// OnResult receives each freshly fetched measurement. OnError, if
	// set, receives every failed exchange (the poller keeps running
	// regardless). Assign both before calling Run.
	OnResult func(*MeasurementResult)
	OnError  func(error)

	// consumed latches once a result has been fetched so the same
	// reading is not fetched twice. It resets when the sensor leaves
	// result-ready, i.e. a new test cycle began.
	consumed bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPoller returns a poller over dev. A non-positive interval selects
// DefaultPollInterval.
func NewPoller(dev Sampler, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		dev:      dev,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Run polls until Stop is called. It blocks; run it in a goroutine.
func (p *Poller) Run() {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.poll()
		}
	}
}

// Stop ends Run. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Poller) poll() {
	pollCycles.Inc()

	s, err := p.dev.QueryState()
	if err != nil {
		log.Warnf("state poll failed: %v", err)
		p.fail(err)
		return
	}
	if s != StateResultReady {
		p.consumed = false
		return
	}
	if p.consumed {
		return
	}

	res, err := p.dev.ReadResult()
	if err != nil {
		log.Warnf("result fetch failed: %v", err)
		p.fail(err)
		return
	}
	p.consumed = true
	resultsRead.Inc()
	if p.OnResult != nil {
		p.OnResult(res)
	}
}

func (p *Poller) fail(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
