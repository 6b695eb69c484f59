package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ebarrios/zegod/zego"
)

// lastResult keeps only the most recent reading; there is deliberately
// no history.
var lastResult struct {
	sync.Mutex
	res *zego.MeasurementResult
	at  time.Time
}

func storeResult(res *zego.MeasurementResult) {
	lastResult.Lock()
	defer lastResult.Unlock()
	lastResult.res = res
	lastResult.at = time.Now()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func httpError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, zego.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, zego.ErrOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, zego.ErrNoResponse):
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(status)
	w.Write([]byte(err.Error() + "\n"))
}

func getStatus(w http.ResponseWriter, r *http.Request) {
	s, err := conn.QueryState()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		State           zego.SensorState `json:"state"`
		Code            string           `json:"code"`
		ResultAvailable bool             `json:"result_available"`
	}{s, fmt.Sprintf("0x%02x", byte(s)), conn.ResultAvailable()})
}

func postTest(w http.ResponseWriter, r *http.Request) {
	// Refresh the confirmed state first so the begin-test gate works
	// from current information, as the sensor manual intends.
	if _, err := conn.QueryState(); err != nil {
		httpError(w, err)
		return
	}
	accepted, err := conn.BeginTest()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Accepted bool `json:"accepted"`
	}{accepted})
}

func getResult(w http.ResponseWriter, r *http.Request) {
	lastResult.Lock()
	res, at := lastResult.res, lastResult.at
	lastResult.Unlock()
	if res == nil {
		w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no measurement fetched yet\n"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*zego.MeasurementResult
		FetchedAt time.Time `json:"fetched_at"`
	}{res, at})
}

func getThresholds(w http.ResponseWriter, r *http.Request) {
	tp, err := conn.QueryThresholds()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tp)
}

func getBlowTime(w http.ResponseWriter, r *http.Request) {
	secs, err := conn.GetBlowTime()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Seconds int `json:"seconds"`
	}{secs})
}

func putBlowTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(err.Error() + "\n"))
		return
	}
	accepted, err := conn.SetBlowTime(req.Seconds)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Accepted bool `json:"accepted"`
		Seconds  int  `json:"seconds"`
	}{accepted, req.Seconds})
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Version   string `json:"version"`
		BuildDate string `json:"build_date"`
	}{Version: buildVersion, BuildDate: buildDate})
}

func health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}
