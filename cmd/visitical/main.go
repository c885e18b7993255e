package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"visitical/internal/config"
	"visitical/internal/ics"
	appLog "visitical/internal/log"
	"visitical/internal/model"
	"visitical/internal/refresh"
	"visitical/internal/web"
)

var version = "0.1.0-dev"

type flagConfig struct {
	configPath string
	listen     string
	encode     string
	decode     string
	inspect    string
	once       bool
	devLog     bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", flags.configPath, err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Init(conf.LogLevel, flags.devLog)
	defer appLog.Sync()

	encoder := ics.NewEncoder(ics.Options{
		ProdID:            conf.ProdID,
		PlaceholderDomain: conf.PlaceholderEmailDomain,
		Match:             ics.MatchConfig{Timeout: conf.MatchTimeout},
	})
	decoder := ics.NewDecoder(ics.DecoderOptions{ProdID: conf.DecodeProdID})

	// One-shot conversions write to stdout and exit.
	switch {
	case flags.encode != "":
		exitOn(runEncode(encoder, flags.encode, os.Stdout))
		return
	case flags.decode != "":
		exitOn(runDecode(decoder, flags.decode, os.Stdout))
		return
	case flags.inspect != "":
		exitOn(runInspect(flags.inspect, os.Stdout))
		return
	}

	appLog.Info("visitical starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"source_count", len(conf.Sources),
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := refresh.NewStore()
	runner := refresh.NewRunner(sourcesOf(conf), ics.NewFetcher(conf.CacheDir, nil), decoder, store)

	if flags.once {
		err := runner.RunOnce(ctx)
		if encErr := writeJSON(os.Stdout, store.Visits()); encErr != nil {
			err = errors.Join(err, encErr)
		}
		exitOn(err)
		return
	}

	if err := runner.Start(ctx, conf.RefreshCron); err != nil {
		appLog.Error("failed to start refresh scheduler", err)
		os.Exit(1)
	}

	srv := web.NewServer(conf, web.Deps{Encoder: encoder, Decoder: decoder, Store: store})
	if err := srv.Serve(ctx); err != nil {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}
	appLog.Info("visitical exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/visitical/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.encode, "encode", "", "Encode a JSON visit request file (- for stdin) and exit")
	flag.StringVar(&cfg.decode, "decode", "", "Decode a calendar payload file (- for stdin) and exit")
	flag.StringVar(&cfg.inspect, "inspect", "", "Parse a payload with a strict calendar parser and exit")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh cycle, print the stored visits and exit")
	flag.BoolVar(&cfg.devLog, "dev-log", false, "Human-readable console logging")

	flag.Parse()

	return cfg
}

func sourcesOf(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.Sources))
	for _, s := range conf.Sources {
		out = append(out, ics.Source{ID: s.ID, Name: s.Name, URL: s.URL})
	}
	return out
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func runEncode(enc *ics.Encoder, path string, w io.Writer) error {
	data, err := readInput(path)
	if err != nil {
		return err
	}
	var req model.VisitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse visit request: %w", err)
	}
	payload, _, err := enc.Encode(req)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, payload)
	return err
}

func runDecode(dec *ics.Decoder, path string, w io.Writer) error {
	data, err := readInput(path)
	if err != nil {
		return err
	}
	req, err := dec.Decode(string(data))
	if err != nil {
		return err
	}
	return writeJSON(w, req)
}

func runInspect(path string, w io.Writer) error {
	data, err := readInput(path)
	if err != nil {
		return err
	}
	res, err := ics.Inspect(string(data))
	if err != nil {
		return err
	}
	return writeJSON(w, res)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitOn(err error) {
	if err == nil {
		return
	}
	appLog.Error("command failed", err)
	appLog.Sync()
	os.Exit(1)
}
