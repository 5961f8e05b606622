package config

// Defaults returns the values used when a key is missing from both the config
// file and the environment. Keys use the same dotted paths as the HCL file.
func Defaults() map[string]any {
	return map[string]any{
		"serial.baud_rate": 115200,

		"device.command_timeout_ms": 1000,
		"device.reset_timeout_ms":   10000,
		"device.settle_ms":          0,
		"device.poll_interval_ms":   100,
		"device.rssi_average_us":    0,
		"device.tx_delay_ms":        0,

		"ctune.initial":       0,
		"ctune.min":           0,
		"ctune.max":           255,
		"ctune.step":          1,
		"ctune.coarse_points": 20,
		"ctune.band_hz":       5000.0,
		"ctune.max_stalls":    2,
		"ctune.power":         0.0,
		"ctune.span_hz":       100000.0,

		"sensitivity.threshold":  0.1,
		"sensitivity.metric":     "ber",
		"sensitivity.ber_bytes":  1000,
		"sensitivity.packets":    100,
		"sensitivity.timeout_ms": 5000,

		"blocking.margin_db": 3.0,

		"txsweep.harmonics": 1,
		"txsweep.span_hz":   1000000.0,

		"specan.driver":  "none",
		"siggen.driver":  "none",
		"blocker.driver": "none",
		"psu.driver":     "none",

		"sdr.sample_rate": 2400000.0,
		"sdr.chunk_size":  65536,

		"monitor.refresh_ms": 500,
	}
}
