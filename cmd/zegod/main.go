package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ebarrios/zegod/zego"
)

var cfgFile = flag.String("f", "", "read configuration from YAML `file`")
var connTo = flag.String("c", "", "connection string, use socket://[host]:[port] for TCP or [serialDevice] for direct serial connection")
var httpServe = flag.String("s", "", "start http server at [bindtohost][:]port")
var verbose = flag.Bool("v", false, "verbose logging")
var showVersion = flag.Bool("version", false, "print version and exit")

var conn *zego.Device

// To be set via go build -ldflags "-X main.buildVersion=... -X main.buildDate=..."
var buildVersion = "unspecified"
var buildDate = "unknown"

func setupLogger(cfg *Config) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	if *verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	if cfg.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}
}

var reconnect struct {
	sync.Mutex
	last time.Time
}

// onPollError reconnects after the transport dropped. Protocol-level
// failures (timeouts, bad checksums) are left to the next poll cycle.
func onPollError(err error) {
	if !errors.Is(err, io.EOF) {
		return
	}
	reconnect.Lock()
	defer reconnect.Unlock()
	if time.Since(reconnect.last) < 12*time.Second {
		return
	}
	reconnect.last = time.Now()

	log.Warnf("connection lost, reconnecting")
	if err := conn.Reconnect(); err != nil {
		log.Errorf("reconnect failed: %v", err)
		return
	}
	log.Infof("reconnected")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("zegod %s (built %s)\n", buildVersion, buildDate)
		os.Exit(0)
	}

	cfg := defaultConfig()
	if *cfgFile != "" {
		var err error
		cfg, err = loadConfig(*cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	if *connTo != "" {
		cfg.Connection = *connTo
	}
	if *httpServe != "" {
		cfg.HTTP = *httpServe
	}

	setupLogger(cfg)

	if cfg.Connection == "" {
		log.Fatal("need connection string in -c option or config file")
	}

	conn = zego.NewDevice()
	conn.Timeout = cfg.Sensor.Timeout
	conn.SettleDelay = cfg.Sensor.SettleDelay
	conn.WriteDelay = cfg.Sensor.WriteDelay

	if err := conn.Connect(cfg.Connection); err != nil {
		log.Fatalf("connect to %v: %v", cfg.Connection, err)
	}

	if s, err := conn.QueryState(); err != nil {
		log.Warnf("initial state query failed: %v", err)
	} else {
		log.Infof("sensor attached, state: %v", s)
	}

	poller := zego.NewPoller(conn, cfg.Poll.Interval)
	poller.OnResult = storeResult
	poller.OnError = onPollError
	go poller.Run()

	var h *http.Server
	if cfg.HTTP != "" {
		router := mux.NewRouter()

		router.HandleFunc("/status", getStatus).Methods("GET")
		router.HandleFunc("/test", postTest).Methods("POST")
		router.HandleFunc("/result", getResult).Methods("GET")
		router.HandleFunc("/thresholds", getThresholds).Methods("GET")
		router.HandleFunc("/blowtime", getBlowTime).Methods("GET")
		router.HandleFunc("/blowtime", putBlowTime).Methods("PUT")
		router.HandleFunc("/version", versionInfo).Methods("GET")
		router.HandleFunc("/health", health).Methods("GET")
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")

		// accept :[portnum] as well as [portnum]
		if i, err := strconv.Atoi(cfg.HTTP); err == nil {
			cfg.HTTP = fmt.Sprintf(":%d", i)
		}

		h = &http.Server{Addr: cfg.HTTP, Handler: router}
		go func() {
			log.Infof("http api listening on %v", cfg.HTTP)
			if err := h.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(err)
			}
		}()
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	<-done

	log.Infof("shutting down")
	poller.Stop()
	if h != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		h.Shutdown(ctx)
		cancel()
	}
	conn.Close()
}
