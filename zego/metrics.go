package zego

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	exchangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zegod_exchanges_total",
		Help: "Command/response exchanges issued, by opcode.",
	}, []string{"opcode"})

	exchangeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zegod_exchange_failures_total",
		Help: "Failed exchanges, by failure kind.",
	}, []string{"kind"})

	pollCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zegod_poll_cycles_total",
		Help: "State poll cycles run.",
	})

	resultsRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zegod_results_read_total",
		Help: "Completed measurements fetched from the sensor.",
	})
)

func init() {
	prometheus.MustRegister(exchangesTotal, exchangeFailures, pollCycles, resultsRead)
}

func opcodeName(op byte) string {
	switch op {
	case OpQueryState:
		return "query_state"
	case OpReadResult:
		return "read_result"
	case OpChangeState:
		return "change_state"
	case OpReadBlowTime:
		return "read_blow_time"
	case OpWriteBlowTime:
		return "write_blow_time"
	case OpQueryThresholds:
		return "query_thresholds"
	}
	return fmt.Sprintf("0x%02x", op)
}

// countFailure increments the failure counter for err's kind and hands
// err back unchanged.
func countFailure(err error) error {
	var pe *PartialError
	var oe *UnexpectedOpcodeError
	kind := "io"
	switch {
	case errors.Is(err, ErrNoResponse):
		kind = "no_response"
	case errors.As(err, &pe):
		kind = "partial_response"
	case errors.Is(err, ErrChecksum):
		kind = "checksum"
	case errors.Is(err, ErrMalformed):
		kind = "malformed"
	case errors.As(err, &oe):
		kind = "unexpected_opcode"
	case errors.Is(err, io.EOF):
		kind = "disconnected"
	}
	exchangeFailures.WithLabelValues(kind).Inc()
	return err
}
