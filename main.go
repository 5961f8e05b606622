package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
	"github.com/jrwynneiii/railtuner/device"
	"github.com/jrwynneiii/railtuner/instrument"
	"github.com/jrwynneiii/railtuner/metrics"
	"github.com/jrwynneiii/railtuner/radio"
	"github.com/jrwynneiii/railtuner/response"
	"github.com/jrwynneiii/railtuner/sequencer"
	"github.com/jrwynneiii/railtuner/transport"
	"github.com/jrwynneiii/railtuner/tui"

	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "RAILTUNER_"

var configFile = koanf.New(".")

func getConfigPath() string {
	if cli.Config != "" {
		return cli.Config
	}
	paths := []string{"/etc/railtuner/config.hcl", "~/.config/railtuner/config.hcl", "./config.hcl"}
	for _, path := range paths {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			log.Infof("Found config file: %s", path)
			return path
		}
	}
	log.Info("Config file not found!")
	return ""
}

func loadConfig() {
	for k, v := range config.Defaults() {
		configFile.Set(k, v)
	}
	if err := configFile.Load(file.Provider(getConfigPath()), hcl.Parser(true)); err != nil {
		log.Errorf("Could not read config file: %v", err)
		log.Error("Attempting to use environment variables")
		configFile.Load(env.Provider("", env.Opt{
			Prefix: envPrefix,
			TransformFunc: func(k, v string) (string, any) {
				key := strings.ToLower(strings.TrimPrefix(k, envPrefix))
				k = strings.Replace(key, "_", ".", 1)
				log.Debugf("Found config env var: %s=%v", k, v)
				return k, v
			},
		}), nil)
	}
}

func section[T any](path string) T {
	var conf T
	if err := configFile.Unmarshal(path, &conf); err != nil {
		log.Fatalf("Invalid %s config: %v", path, err)
	}
	return conf
}

func main() {
	log.Info("Starting railtuner")
	flags := kong.Parse(&cli)
	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mconf := section[config.MetricsConf]("metrics"); mconf.Listen != "" {
		go metrics.Serve(mconf.Listen)
	}

	var err error
	switch flags.Command() {
	case "probe":
		err = probe()
	case "ctune", "sensitivity", "blocking", "txsweep", "rssisweep":
		err = measure(ctx, flags.Command())
	default:
		log.Info("Command not recognized")
	}
	if err != nil {
		log.Errorf("%s failed: %v", flags.Command(), err)
		stop()
		os.Exit(1)
	}
}

func serialConf() config.SerialConf {
	conf := section[config.SerialConf]("serial")
	if cli.Port != "" {
		conf.Port = cli.Port
	}
	return conf
}

func probe() error {
	ports, err := transport.ListPorts()
	if err != nil {
		log.Errorf("Could not list serial ports: %v", err)
	}
	for _, p := range ports {
		log.Infof("Found serial port: %s", p)
	}
	if err := radio.LogAllSoapySDRDevices(); err != nil {
		log.Error(err)
	}

	sconf := serialConf()
	if sconf.Port == "" {
		return nil
	}
	session, err := device.Open(sconf, section[config.DeviceConf]("device"))
	if err != nil {
		return err
	}
	defer closeSession(session)
	version, err := session.GetVersion()
	if err != nil {
		return err
	}
	log.Infof("DUT on %s: %s", sconf.Port, version.Encode())
	if !cli.Verbose {
		return nil
	}
	for _, q := range []struct {
		name string
		get  func() (response.Record, error)
	}{
		{"build", session.GetVersionVerbose},
		{"power config", session.GetPowerConfig},
		{"power", session.GetPower},
	} {
		r, err := q.get()
		if err != nil {
			log.Errorf("Could not read DUT %s: %v", q.name, err)
			continue
		}
		log.Debugf("DUT %s: %s", q.name, r.Encode())
	}
	return nil
}

func closeSession(s *device.Session) {
	if err := s.Close(); err != nil {
		log.Errorf("Could not shut the DUT down cleanly: %v", err)
	}
}

// measure opens the DUT and instruments, runs one sweep and always tears the
// session down, including after SIGINT.
func measure(ctx context.Context, command string) error {
	session, err := device.Open(serialConf(), section[config.DeviceConf]("device"))
	if err != nil {
		return err
	}
	defer closeSession(session)

	rig, closers, err := buildRig(ctx, session)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Error(err)
			}
		}
	}()
	if err != nil {
		return err
	}

	run := func(ctx context.Context) ([]string, error) { return sweep(ctx, rig, command) }

	var report []string
	mconf := section[config.MonitorConf]("monitor")
	if mconf.Enable {
		mon := tui.New(mconf)
		rig.Observer = mon.Observe
		report, err = runMonitored(ctx, mon, run)
	} else {
		rig.Observer = logEvent
		report, err = run(ctx)
	}
	for _, line := range report {
		log.Info(line)
	}
	return err
}

type monitor interface {
	Run() error
	Stop()
}

// runMonitored runs the sweep while mon owns the terminal. The view closes
// when the sweep ends or the user quits; the report is returned only after
// that, so it lands on stderr and not in the view's log pane.
func runMonitored(ctx context.Context, mon monitor, run func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		report []string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := run(ctx)
		done <- outcome{report, err}
		mon.Stop()
	}()
	if err := mon.Run(); err != nil {
		log.Errorf("Could not start UI: %v", err)
	}
	cancel()
	mon.Stop()
	out := <-done
	return out.report, out.err
}

func logEvent(e sequencer.Event) {
	if e.Done {
		return
	}
	log.Debugf("%s %.3f MHz: %.2f -> %.2f %s", e.Sweep, e.Frequency/1e6, e.X, e.Y, e.Note)
}

func buildRig(ctx context.Context, dut sequencer.DUT) (sequencer.Rig, []io.Closer, error) {
	rig := sequencer.Rig{DUT: dut}
	var closers []io.Closer

	aconf := section[config.InstrumentConf]("specan")
	switch aconf.Driver {
	case "scpi":
		a, err := instrument.NewSpectrumAnalyzer(ctx, aconf)
		if err != nil {
			return rig, closers, fmt.Errorf("spectrum analyzer: %w", err)
		}
		log.Infof("Using %s spectrum analyzer", a.Dialect())
		rig.Analyzer = a
		closers = append(closers, a)
	case "soapy":
		sdr := radio.New(section[config.SDRConf]("sdr"))
		if err := sdr.Connect(); err != nil {
			return rig, closers, fmt.Errorf("SDR analyzer: %w", err)
		}
		rig.Analyzer = sdr
		closers = append(closers, sdr)
	case "", "none":
	default:
		return rig, closers, fmt.Errorf("unknown spectrum analyzer driver %q", aconf.Driver)
	}

	for _, g := range []struct {
		path string
		dst  *instrument.SignalGenerator
	}{
		{"siggen", &rig.Generator},
		{"blocker", &rig.Blocker},
	} {
		gconf := section[config.InstrumentConf](g.path)
		switch gconf.Driver {
		case "scpi":
			gen, err := instrument.NewSignalGenerator(ctx, gconf)
			if err != nil {
				return rig, closers, fmt.Errorf("%s: %w", g.path, err)
			}
			log.Infof("Using %s signal generator as %s", gen.Dialect(), g.path)
			*g.dst = gen
			closers = append(closers, gen)
		case "", "none":
		default:
			return rig, closers, fmt.Errorf("unknown %s driver %q", g.path, gconf.Driver)
		}
	}

	pconf := section[config.InstrumentConf]("psu")
	switch pconf.Driver {
	case "scpi":
		p, err := instrument.NewPowerSupply(ctx, pconf)
		if err != nil {
			return rig, closers, fmt.Errorf("power supply: %w", err)
		}
		rig.Supply = p
		closers = append(closers, p)
	case "", "none":
	default:
		return rig, closers, fmt.Errorf("unknown power supply driver %q", pconf.Driver)
	}
	return rig, closers, nil
}

func sweep(ctx context.Context, rig sequencer.Rig, command string) ([]string, error) {
	cconf := section[config.CtuneConf]("ctune")
	sconf := section[config.SensitivityConf]("sensitivity")

	if sconf.TuneCtuneFirst && (command == "sensitivity" || command == "blocking") {
		if _, err := sequencer.TuneByFrequencyError(ctx, rig, cconf); err != nil {
			return nil, fmt.Errorf("ctune before %s: %w", command, err)
		}
	}

	switch command {
	case "ctune":
		if cli.Ctune.Rssi {
			res, err := sequencer.TuneBySignalStrength(ctx, rig, cconf)
			return ctuneReport(res), err
		}
		res, err := sequencer.TuneByFrequencyError(ctx, rig, cconf)
		return ctuneReport(res), err

	case "sensitivity":
		res, err := sequencer.Sensitivity(ctx, rig, sconf)
		if err != nil {
			return nil, err
		}
		if res.Failed {
			return nil, fmt.Errorf("run %s: no signal at the first point", res.RunID)
		}
		return sensitivityReport(res), nil

	case "blocking":
		res, err := sequencer.Blocking(ctx, rig, sconf, section[config.BlockingConf]("blocking"))
		if err != nil {
			return nil, err
		}
		if res.Failed {
			return nil, fmt.Errorf("run %s: no signal at the first point", res.RunID)
		}
		return blockingReport(res), nil

	case "txsweep":
		res, err := sequencer.TxCWSweep(ctx, rig, section[config.TxSweepConf]("txsweep"))
		return txReport(res.Points), err

	case "rssisweep":
		res, err := sequencer.RSSISweep(ctx, rig, section[config.RSSISweepConf]("rssisweep"))
		return rssiReport(res.Points), err
	}
	return nil, fmt.Errorf("unknown sweep %q", command)
}
