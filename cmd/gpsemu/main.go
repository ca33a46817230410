package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"github.com/spf13/viper"
	"nuha.dev/gpsemu/internal/emu/event"
	"nuha.dev/gpsemu/internal/harness"
)

func main() {
	config_file := flag.String("config", "", "config file (yaml, json or toml)")
	host := flag.String("host", "127.0.0.1", "collector host")
	port := flag.Int("port", 11500, "collector port")
	devices := flag.Int("devices", 1, "number of emulated devices")
	imei := flag.String("imei", "355372020827303", "imei of the first device, the rest count up")
	imsi := flag.String("imsi", "460001515535328", "emulated imsi")
	iccid := flag.String("iccid", "89860113859009347034", "emulated iccid")
	report := flag.String("report", "lbs", "report content: lbs, gps or both")
	nats_url := flag.String("nats_url", "", "forward session events to this nats server")
	log_level := flag.String("log_level", "info", "log level")
	flag.Parse()

	v := viper.New()
	// flags given on the command line win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			v.Set("host", *host)
		case "port":
			v.Set("port", *port)
		case "devices":
			v.Set("devices", *devices)
		case "imei":
			v.Set("imei", *imei)
		case "imsi":
			v.Set("imsi", *imsi)
		case "iccid":
			v.Set("iccid", *iccid)
		case "report":
			v.Set("report", *report)
		case "nats_url":
			v.Set("nats_url", *nats_url)
		case "log_level":
			v.Set("log_level", *log_level)
		}
	})
	conf, err := harness.LoadConfig(v, *config_file)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.DefaultLogger = log.Logger{
		Level:  log.ParseLevel(conf.LogLevel),
		Caller: 1,
		Writer: &log.ConsoleWriter{ColorOutput: true, EndWithMessage: true},
	}

	eb, err := event.New(1)
	if err != nil {
		log.Fatal().Err(err).Msg("event bus")
	}
	if conf.NatsURL != "" {
		nc, err := nats.Connect(conf.NatsURL, nats.Name("gpsemu"))
		if err != nil {
			log.Fatal().Err(err).Str("url", conf.NatsURL).Msg("nats connect")
		}
		defer nc.Drain()
		eb.ForwardNATS(nc, conf.NatsPrefix)
	}

	h, err := harness.New(conf, eb)
	if err != nil {
		log.Fatal().Err(err).Msg("harness")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = h.Run(ctx); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}
