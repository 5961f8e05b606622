package config

type SerialConf struct {
	Port        string `koanf:"port"`
	BaudRate    int    `koanf:"baud_rate"`
	ResetOnOpen bool   `koanf:"reset_on_open"`
}

type DeviceConf struct {
	CommandTimeoutMs int `koanf:"command_timeout_ms"`
	ResetTimeoutMs   int `koanf:"reset_timeout_ms"`
	SettleMs         int `koanf:"settle_ms"`
	PollIntervalMs   int `koanf:"poll_interval_ms"`
	// Sent with setPowerConfig before setPower; an empty mode leaves the firmware default.
	PaMode      string `koanf:"pa_mode"`
	PaVoltageMv int    `koanf:"pa_voltage_mv"`
	PaRampUs    int    `koanf:"pa_ramp_us"`
	// Above 0, RSSI reads average over this window instead of one sample.
	RssiAverageUs int `koanf:"rssi_average_us"`
	// Gap between packets in continuous packet transmission.
	TxDelayMs int `koanf:"tx_delay_ms"`
}

type CtuneConf struct {
	Initial      int     `koanf:"initial"`
	Min          int     `koanf:"min"`
	Max          int     `koanf:"max"`
	Step         int     `koanf:"step"`
	CoarsePoints int     `koanf:"coarse_points"`
	BandHz       float64 `koanf:"band_hz"`
	// 0 allows enough observations for a coarse sweep plus a full walk.
	MaxSteps  int     `koanf:"max_steps"`
	MaxStalls int     `koanf:"max_stalls"`
	Frequency float64 `koanf:"frequency"`
	Power     float64 `koanf:"power"`
	SpanHz    float64 `koanf:"span_hz"`
	SettleMs  int     `koanf:"settle_ms"`
	// Signal-strength variant: generator level injected while the DUT listens.
	GeneratorLevel float64 `koanf:"generator_level"`
}

type SensitivityConf struct {
	Frequencies    []float64 `koanf:"frequencies"`
	Offsets        []float64 `koanf:"offsets"`
	Levels         []float64 `koanf:"levels"`
	Threshold      float64   `koanf:"threshold"`
	CableLoss      float64   `koanf:"cable_loss"`
	Metric         string    `koanf:"metric"`
	BerBytes       int       `koanf:"ber_bytes"`
	Packets        int       `koanf:"packets"`
	TimeoutMs      int       `koanf:"timeout_ms"`
	TuneCtuneFirst bool      `koanf:"tune_ctune_first"`
}

type BlockingConf struct {
	Offsets         []float64 `koanf:"offsets"`
	BlockerLevels   []float64 `koanf:"blocker_levels"`
	MarginDb        float64   `koanf:"margin_db"`
	DesiredLevel    float64   `koanf:"desired_level"`
	BlockerLoss     float64   `koanf:"blocker_cable_loss"`
	SkipSensitivity bool      `koanf:"skip_sensitivity"`
}

type TxSweepConf struct {
	Frequencies []float64 `koanf:"frequencies"`
	PowerLevels []float64 `koanf:"power_levels"`
	RawPower    bool      `koanf:"raw_power"`
	Voltages    []float64 `koanf:"voltages"`
	Harmonics   int       `koanf:"harmonics"`
	SpanHz      float64   `koanf:"span_hz"`
	CableLoss   float64   `koanf:"cable_loss"`
	SettleMs    int       `koanf:"settle_ms"`
}

type RSSISweepConf struct {
	Frequencies     []float64 `koanf:"frequencies"`
	InjectedOffsets []float64 `koanf:"injected_offsets"`
	Levels          []float64 `koanf:"levels"`
	CableLoss       float64   `koanf:"cable_loss"`
	SettleMs        int       `koanf:"settle_ms"`
}

// InstrumentConf selects an instrument backend. Driver "scpi" dials Address
// over TCP, "soapy" (analyzers only) uses a local SDR and "none" disables it.
type InstrumentConf struct {
	Driver    string  `koanf:"driver"`
	Address   string  `koanf:"address"`
	TimeoutMs int     `koanf:"timeout_ms"`
	Rbw       float64 `koanf:"rbw"`
}

type SDRConf struct {
	Driver     string  `koanf:"driver"`
	Address    string  `koanf:"address"`
	SampleRate float64 `koanf:"sample_rate"`
	ChunkSize  uint    `koanf:"chunk_size"`
	RefLevel   float64 `koanf:"ref_level"`
}

type MonitorConf struct {
	Enable          bool `koanf:"enable"`
	RefreshMs       int  `koanf:"refresh_ms"`
	EnableLogOutput bool `koanf:"enable_log_output"`
}

type MetricsConf struct {
	Listen string `koanf:"listen"`
}
