// Command vulndetectord runs the vulnerability detection engine as a
// standalone daemon: it wires configuration, logging, and every
// component behind the Scheduler's loop, then blocks until signaled.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/quay/zlog"
	"github.com/rs/zerolog"

	"github.com/rtkjbillo/wazuh"
	"github.com/rtkjbillo/wazuh/catalog"
	"github.com/rtkjbillo/wazuh/fetch"
	"github.com/rtkjbillo/wazuh/internal/alertsink"
	"github.com/rtkjbillo/wazuh/internal/inventoryhttp"
	"github.com/rtkjbillo/wazuh/internal/statestore"
	"github.com/rtkjbillo/wazuh/scan"
	"github.com/rtkjbillo/wazuh/scheduler"
)

// Config uses the goconfig library for flag and env var parsing. See:
// https://github.com/crgimenes/goconfig
type Config struct {
	LogLevel string `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warning, error, fatal, panic"`

	CatalogPath   string `cfgDefault:"/var/ossec/queue/vulndetector/catalog.db" cfg:"CATALOG_PATH"`
	StatePath     string `cfgDefault:"/var/ossec/var/run/vulndetector.state" cfg:"STATE_PATH"`
	AlertSinkPath string `cfgDefault:"/var/ossec/queue/alerts/queue" cfg:"ALERT_SINK_PATH"`
	InventoryAddr string `cfgDefault:"127.0.0.1:1514" cfg:"INVENTORY_ADDR" cfgHelper:"address of the inventory provider"`

	KafkaBrokers string `cfgDefault:"" cfg:"KAFKA_BROKERS" cfgHelper:"comma-separated broker list; enables the Kafka alert sink when non-empty"`
	KafkaTopic   string `cfgDefault:"vulnerability-alerts" cfg:"KAFKA_TOPIC"`

	Enabled    bool `cfgDefault:"true" cfg:"ENABLED"`
	RunOnStart bool `cfgDefault:"false" cfg:"RUN_ON_START"`

	UpdateUbuntu bool `cfgDefault:"true" cfg:"UPDATE_UBUNTU"`
	UpdateRedHat bool `cfgDefault:"true" cfg:"UPDATE_REDHAT"`

	Precise bool `cfgDefault:"true" cfg:"PRECISE"`
	Trusty  bool `cfgDefault:"true" cfg:"TRUSTY"`
	Xenial  bool `cfgDefault:"true" cfg:"XENIAL"`
	RH5     bool `cfgDefault:"true" cfg:"RH5"`
	RH6     bool `cfgDefault:"true" cfg:"RH6"`
	RH7     bool `cfgDefault:"true" cfg:"RH7"`

	IntervalDetectSeconds int64 `cfgDefault:"7200" cfg:"INTERVAL_DETECT"`
	IntervalUbuntuSeconds int64 `cfgDefault:"86400" cfg:"INTERVAL_UBUNTU"`
	IntervalRedHatSeconds int64 `cfgDefault:"86400" cfg:"INTERVAL_REDHAT"`
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).
		With().Timestamp().Caller().Logger()

	conf := Config{}
	if err := goconfig.Parse(&conf); err != nil {
		log.Fatal().Err(err).Msg("failed to parse config")
	}
	log = log.Level(logLevel(conf))
	zlog.Set(&log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Open(ctx, conf.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog")
	}
	defer cat.Close()

	sink, err := buildSink(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open alert sink")
	}
	defer sink.Close()

	inv := inventoryhttp.NewClient(conf.InventoryAddr)

	sc := &scheduler.Scheduler{
		Config: scheduler.Config{
			Enabled:    conf.Enabled,
			RunOnStart: conf.RunOnStart,
			UpdateFamily: map[wazuh.Family]bool{
				wazuh.Ubuntu: conf.UpdateUbuntu,
				wazuh.RedHat: conf.UpdateRedHat,
			},
			DistroEnabled: map[wazuh.Distro]bool{
				wazuh.UbuntuPrecise: conf.Precise,
				wazuh.UbuntuTrusty:  conf.Trusty,
				wazuh.UbuntuXenial:  conf.Xenial,
				wazuh.RHEL5:         conf.RH5,
				wazuh.RHEL6:         conf.RH6,
				wazuh.RHEL7:         conf.RH7,
			},
			MaxDetect: time.Duration(conf.IntervalDetectSeconds) * time.Second,
			MaxUbuntu: time.Duration(conf.IntervalUbuntuSeconds) * time.Second,
			MaxRedHat: time.Duration(conf.IntervalRedHatSeconds) * time.Second,
		},
		Fetcher: fetch.New(fetch.DefaultSources),
		Catalog: cat,
		Scanner: &scan.Scanner{
			Catalog:   cat,
			Inventory: inv,
			Sink:      sink,
		},
		State: statestore.FileStore{Path: conf.StatePath},
	}

	log.Info().Msg("starting vulnerability detection engine")
	if err := sc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("scheduler exited fatally")
	}
	log.Info().Msg("shutting down")
}

func buildSink(conf Config) (alertsink.Sink, error) {
	if conf.KafkaBrokers != "" {
		return alertsink.NewKafkaSink(strings.Split(conf.KafkaBrokers, ","), conf.KafkaTopic)
	}
	return alertsink.NewFileSink(conf.AlertSinkPath)
}

func logLevel(conf Config) zerolog.Level {
	if l, err := zerolog.ParseLevel(strings.ToLower(conf.LogLevel)); err == nil {
		return l
	}
	return zerolog.InfoLevel
}
