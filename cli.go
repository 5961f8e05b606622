package main

var cli struct {
	Verbose bool   `help:"Prints debug output by default"`
	Config  string `help:"Path to the HCL config file, searched for in the usual places when empty" type:"path"`
	Port    string `help:"Serial port of the DUT, overrides serial.port"`

	Probe struct {
	} `cmd:"" help:"List serial ports, SoapySDR devices and the DUT firmware version"`
	Ctune struct {
		Rssi bool `help:"Tune for the strongest received signal instead of the carrier frequency error"`
	} `cmd:"" help:"Trim the DUT crystal (CTUNE)"`
	Sensitivity struct {
	} `cmd:"" help:"Find the receive sensitivity at each configured frequency"`
	Blocking struct {
	} `cmd:"" help:"Find the blocker level that breaks the link at each offset"`
	Txsweep struct {
	} `cmd:"" help:"Sweep CW transmit power and supply voltage, reading harmonics on the analyzer"`
	Rssisweep struct {
	} `cmd:"" help:"Record DUT RSSI across injected frequencies and levels"`
}
