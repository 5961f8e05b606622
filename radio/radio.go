package radio

// #cgo CFLAGS: -g -Wall
// #cgo LDFLAGS: -lSoapySDR
import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"

	"github.com/pothosware/go-soapy-sdr/pkg/device"
	"github.com/pothosware/go-soapy-sdr/pkg/modules"
	"github.com/pothosware/go-soapy-sdr/pkg/sdrlogger"
	"github.com/pothosware/go-soapy-sdr/pkg/version"
)

func InitSoapySDR() {
	log.Debugf("Using SoapySDR versions: ABI: %s API: %s Lib: %s", version.GetABIVersion(), version.GetAPIVersion(), version.GetLibVersion())
	log.Debugf("SoapySDR modules root path: %v", modules.GetRootPath())

	searchPaths := modules.ListSearchPaths()
	if len(searchPaths) > 0 {
		for i, searchPath := range searchPaths {
			log.Debugf("Search path #%d: %v", i, searchPath)
		}
	} else {
		log.Debug("Search paths: [none]")
	}

	for _, module := range modules.ListModules() {
		moduleVersion := modules.GetModuleVersion(module)
		if len(moduleVersion) == 0 {
			moduleVersion = "[None]"
		}
		log.Debugf("Found SoapySDR module: %v, version: %v", module, moduleVersion)
	}
	sdrlogger.SetLogLevel(sdrlogger.Error)
}

// LogAllSoapySDRDevices lists every SDR SoapySDR can see, for the probe command.
func LogAllSoapySDRDevices() error {
	log.Infof("Using SoapySDR versions: ABI: %s API: %s Lib: %s", version.GetABIVersion(), version.GetAPIVersion(), version.GetLibVersion())
	log.Infof("SoapySDR modules root path: %v", modules.GetRootPath())

	modulesFound := modules.ListModules()
	if len(modulesFound) == 0 {
		log.Info("No SoapySDR modules found")
	}
	for _, module := range modulesFound {
		moduleVersion := modules.GetModuleVersion(module)
		if len(moduleVersion) == 0 {
			moduleVersion = "[None]"
		}
		log.Infof("Found SoapySDR module: %v, version: %v", module, moduleVersion)
	}

	// Tune down the logger for soapy so that it doesn't yell about rtl-tcp
	sdrlogger.SetLogLevel(sdrlogger.Error)

	devices := device.Enumerate(nil)
	log.Infof("Found %d SDRs", len(devices))
	args := make([]map[string]string, len(devices))
	for idx, dev := range devices {
		args[idx] = map[string]string{"driver": dev["driver"]}
	}
	devs, err := device.MakeList(args)
	if err != nil {
		return fmt.Errorf("SoapySDR could not open devices: %w", err)
	}
	for idx, dev := range devs {
		log.Infof("Driver: %s", args[idx]["driver"])
		LogAvailSettings(dev)
	}
	// UnmakeList double frees in the cgo bindings; the OS closes the devices on exit.
	return nil
}

func LogAvailSettings(dev *device.SDRDevice) {
	log.Infof("Current settings:")
	for _, setting := range dev.GetSettingInfo() {
		log.Infof("\t- %s: %v", setting.Key, setting.Value)
	}

	numChannels := dev.GetNumChannels(device.DirectionRX)
	log.Info("Channel info:")
	for channel := uint(0); channel < numChannels; channel++ {
		log.Infof("Channel %d:", channel)
		log.Infof("\tAvailable sample rates:")
		log.Infof("\t\t- %v", dev.GetSampleRate(device.DirectionRX, channel))
		for _, sampleRateRange := range dev.GetSampleRateRange(device.DirectionRX, channel) {
			log.Infof("\t\t- %v", sampleRateRange.ToString())
		}
		log.Infof("\tIQ Sample Types: %v", dev.GetStreamFormats(device.DirectionRX, channel))
	}
}

var ErrNoSamples = errors.New("no samples captured, initiate a sweep first")

// Analyzer turns a SoapySDR receiver into a spectrum analyzer: the span is the
// sample rate and the peak marker is the strongest FFT bin of one chunk.
type Analyzer struct {
	Driver     string
	Address    string
	SampleRate float64
	Frequency  float64
	RefLevel   float64

	chunksize uint
	device    *device.SDRDevice
	stream    *device.SDRStreamCF32
	buffer    [][]complex64
	captured  []complex64
}

func New(conf config.SDRConf) *Analyzer {
	chunk := conf.ChunkSize
	if chunk == 0 {
		chunk = 65536
	}
	return &Analyzer{
		Driver:     conf.Driver,
		Address:    conf.Address,
		SampleRate: conf.SampleRate,
		RefLevel:   conf.RefLevel,
		chunksize:  chunk,
		buffer:     [][]complex64{make([]complex64, chunk)},
	}
}

// Connect opens the SDR and activates a CF32 stream on channel 0.
func (a *Analyzer) Connect() error {
	log.Debug("Initing SoapySDR")
	InitSoapySDR()

	args := map[string]string{"driver": a.Driver}
	if a.Driver == "rtltcp" {
		args["rtltcp"] = a.Address
	}
	var err error
	if a.device, err = device.Make(args); err != nil {
		return fmt.Errorf("could not create SoapySDR device %s: %w", a.Driver, err)
	}
	if err := a.device.SetSampleRate(device.DirectionRX, 0, a.SampleRate); err != nil {
		return fmt.Errorf("could not set sample rate: %w", err)
	}
	if a.Frequency > 0 {
		if err := a.device.SetFrequency(device.DirectionRX, 0, a.Frequency, nil); err != nil {
			return fmt.Errorf("could not set frequency: %w", err)
		}
	}
	log.Debugf("Initialized SDR: %v", a.Driver)
	if a.Driver != "rtltcp" {
		LogAvailSettings(a.device)
	}

	log.Debug("Creating the IQ stream")
	if a.stream, err = a.device.SetupSDRStreamCF32(device.DirectionRX, []uint{0}, nil); err != nil {
		return fmt.Errorf("could not setup SDR stream: %w", err)
	}
	if err := a.stream.Activate(0, 0, 0); err != nil {
		return fmt.Errorf("could not activate the IQ stream: %w", err)
	}
	return nil
}

func (a *Analyzer) SetFrequency(hz float64) error {
	a.Frequency = hz
	a.captured = nil
	if a.device == nil {
		return nil
	}
	log.Debugf("Setting SDR frequency to %f", hz)
	return a.device.SetFrequency(device.DirectionRX, 0, hz, nil)
}

// SetSpan changes the sample rate, which bounds the visible span.
func (a *Analyzer) SetSpan(hz float64) error {
	if hz <= 0 {
		return nil
	}
	a.SampleRate = hz
	a.captured = nil
	if a.device == nil {
		return nil
	}
	log.Debugf("Setting SDR sample rate to %f", hz)
	return a.device.SetSampleRate(device.DirectionRX, 0, hz)
}

// InitiateSweep captures one chunk of IQ samples.
func (a *Analyzer) InitiateSweep() error {
	if a.stream == nil {
		return errors.New("SDR stream not active")
	}
	flags := make([]int, 1)
	timeout := uint(100000)
	var buf []complex64
	for uint(len(buf)) < a.chunksize {
		_, n, err := a.stream.Read(a.buffer, a.chunksize-uint(len(buf)), flags, timeout)
		if err != nil {
			return fmt.Errorf("reading IQ stream: %w", err)
		}
		buf = append(buf, a.buffer[0][:n]...)
	}
	a.captured = buf
	return nil
}

func (a *Analyzer) Close() error {
	if a.stream == nil {
		return nil
	}
	log.Debug("Closing IQ stream...")
	err := errors.Join(a.stream.Deactivate(0, 0), a.stream.Close(), device.Unmake(a.device))
	a.stream, a.device = nil, nil
	return err
}
