// Command lsyncd watches one or more source trees and mirrors changes to
// their targets via rsync, coalescing bursts of filesystem activity behind
// a short delay. Grounded on lsyncd.c's main(): minimal flag handling here,
// startup file-existence validation, a version check between the core and
// the selected policy, then a single blocking call into the master loop.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/davideuler/lsyncd/internal/config"
	"github.com/davideuler/lsyncd/internal/corelog"
	"github.com/davideuler/lsyncd/internal/engine"
	"github.com/davideuler/lsyncd/internal/metrics"
	"github.com/davideuler/lsyncd/internal/mirror"
	"github.com/davideuler/lsyncd/internal/osutil"
	"github.com/davideuler/lsyncd/internal/policy"
	"github.com/prometheus/client_golang/prometheus"
)

// coreVersion must equal-string a policy's Version() for it to be accepted,
// matching lsyncd.c's runner/core version check.
const coreVersion = "1"

func main() {
	os.Exit(run())
}

func run() int {
	runner := flag.String("runner", "mirror", "policy to run (currently only \"mirror\" is built in)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [--runner NAME] CONFIG_FILE\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Missing config file")
		flag.Usage()
		return 1
	}
	configFile := flag.Arg(0)

	if _, err := os.Stat(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot find config file at %s.\n", configFile)
		return 1
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	log := corelog.Configure(corelog.Config{
		MinLevel:   parseLevel(cfg.Log.Level),
		LogFile:    cfg.Log.File,
		SysLog:     cfg.Log.Syslog,
		Daemonized: false,
	})

	if *runner != "mirror" {
		fmt.Fprintf(os.Stderr, "unknown runner %q\n", *runner)
		return 1
	}
	p := buildPolicy(cfg)

	eng, err := engine.New(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer eng.Close()

	installSignalHandler(eng.ResetFlag())

	if cfg.Metrics.Listen != "" {
		eng.SetMetrics(startMetricsServer(log, cfg.Metrics.Listen))
	}

	if err := eng.Run(p, coreVersion); err != nil {
		log.Logf(corelog.Error|corelog.CoreFlag, "%v", err)
		return 1
	}
	return 0
}

// buildPolicy constructs one mirror.Policy per configured sync pair and
// fans them out through a single mirror.Multi, so every pair shares the one
// inotify instance and master loop a process owns, matching lsyncd.lua's own
// single-core, several-"sync{}"-calls arrangement.
func buildPolicy(cfg *config.Config) policy.Policy {
	cfgs := make([]mirror.Config, 0, len(cfg.Sync))
	for _, s := range cfg.Sync {
		delay := osutil.Ticks(s.Delay) * osutil.ClockTicksPerSecond
		cfgs = append(cfgs, mirror.Config{
			Source:   s.Source,
			Target:   s.Target,
			Delay:    delay,
			Excludes: s.Excludes,
		})
	}
	return mirror.NewMulti(cfgs)
}

func parseLevel(s string) corelog.Level {
	switch s {
	case "debug":
		return corelog.Debug
	case "verbose":
		return corelog.Verbose
	case "error":
		return corelog.Error
	default:
		return corelog.Normal
	}
}

// installSignalHandler routes SIGTERM/SIGINT/SIGHUP through a dedicated
// goroutine that does nothing but store into the reset flag, the idiomatic
// Go equivalent of the C original's async-signal-safe handler that only
// sets a volatile sig_atomic_t.
func installSignalHandler(reset interface{ Store(bool) }) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		<-c
		reset.Store(true)
	}()
}

func startMetricsServer(log *corelog.Logger, listen string) *metrics.Registry {
	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(listen, mux); err != nil {
			log.Logf(corelog.Error|corelog.CoreFlag, "metrics server stopped: %v", err)
		}
	}()
	return reg
}
