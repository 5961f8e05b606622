package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/railtuner/config"
	"github.com/jrwynneiii/railtuner/metrics"
	"github.com/jrwynneiii/railtuner/response"
	"github.com/jrwynneiii/railtuner/transport"
)

// packetChunk is the granularity the firmware accepts TX payload in.
const packetChunk = 16

type TxMode int

const (
	TxCW TxMode = iota
	TxPN9
	TxContinuousPackets
)

func (m TxMode) String() string {
	switch m {
	case TxCW:
		return "CW"
	case TxPN9:
		return "PN9"
	case TxContinuousPackets:
		return "ContinuousTx"
	}
	return fmt.Sprintf("TxMode(%d)", int(m))
}

var ErrTxIncomplete = errors.New("packet transmission did not complete")

// Session owns one DUT link. It is not safe for concurrent use.
type Session struct {
	tr   *transport.Transport
	corr *Correlator
	conf config.DeviceConf

	timeout      time.Duration
	resetTimeout time.Duration
	resetSettle  time.Duration
	poll         time.Duration

	txPackets int
	closed    bool
}

// Open connects to the serial port in serialConf and prepares the firmware.
func Open(serialConf config.SerialConf, conf config.DeviceConf) (*Session, error) {
	tr, err := transport.Open(serialConf)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(tr, conf, serialConf.ResetOnOpen)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return s, nil
}

// NewSession wraps an open transport. The receiver is switched off and all
// buffers flushed before the first status query.
func NewSession(tr *transport.Transport, conf config.DeviceConf, reset bool) (*Session, error) {
	s := &Session{
		tr:           tr,
		corr:         NewCorrelator(tr, time.Duration(conf.SettleMs)*time.Millisecond),
		conf:         conf,
		timeout:      msOr(conf.CommandTimeoutMs, time.Second),
		resetTimeout: msOr(conf.ResetTimeoutMs, 10*time.Second),
		resetSettle:  500 * time.Millisecond,
		poll:         msOr(conf.PollIntervalMs, 100*time.Millisecond),
	}

	if reset {
		log.Info("Resetting DUT")
		if err := s.Reset(); err != nil {
			return nil, fmt.Errorf("reset: %w", err)
		}
	}
	if err := s.Rx(false); err != nil {
		return nil, fmt.Errorf("initial rx off: %w", err)
	}
	if err := s.tr.Flush(); err != nil {
		return nil, err
	}
	st, err := s.Status()
	if err != nil {
		return nil, fmt.Errorf("initial status: %w", err)
	}
	log.Debugf("DUT ready: mode %s, rf state %s, channel %d", st.AppMode, st.RfState, st.Channel)
	return s, nil
}

func msOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// call retries once after a flush when the framing went wrong. Firmware
// verdicts and link failures are returned as they are.
func (s *Session) call(cmd, expected string) ([]response.Record, error) {
	recs, err := s.corr.Call(cmd, expected, s.timeout)
	if err != nil && retryable(err) {
		log.Warnf("%s: %v, flushing and retrying", cmd, err)
		metrics.DeviceRetries.Inc()
		if ferr := s.tr.Flush(); ferr != nil {
			return nil, ferr
		}
		recs, err = s.corr.Call(cmd, expected, s.timeout)
	}
	return recs, err
}

// Stop brings the firmware back to idle whatever it was doing. Calling it on
// an idle device only queries status.
func (s *Session) Stop() error {
	log.Debug("Stop called")
	st, err := s.Status()
	var unknown *UnknownModeError
	if errors.As(err, &unknown) {
		return err
	}
	if err != nil {
		// A status landing mid-command can come back garbled; one more try.
		log.Debugf("Status during stop failed: %v", err)
		if ferr := s.tr.Flush(); ferr != nil {
			return ferr
		}
		if st, err = s.Status(); err != nil {
			return fmt.Errorf("stop: %w", err)
		}
	}

	switch st.AppMode {
	case ModeContinuousTx:
		if err := s.Tx(0); err != nil {
			return fmt.Errorf("stop continuous tx: %w", err)
		}
		// Swallow the status of the last packet, sent after tx 0.
		if _, err := s.tr.Read(transport.None, 200*time.Millisecond); err != nil {
			return err
		}
	case ModeStream:
		if err := s.SetTxStream(false, StreamCW, 0); err != nil {
			return fmt.Errorf("stop stream: %w", err)
		}
	case ModeBER:
		if err := s.BerRx(false); err != nil {
			return fmt.Errorf("stop ber rx: %w", err)
		}
	case ModePacketTx:
		// If the burst finishes while tx 0 is in flight, the firmware falls
		// into continuous mode and the reply does not match.
		if _, err := s.corr.Call("tx 0", "tx", s.timeout); err != nil {
			log.Debugf("tx 0 during packet tx failed: %v", err)
			if ferr := s.tr.Flush(); ferr != nil {
				return ferr
			}
			again, err := s.Status()
			if err != nil {
				return fmt.Errorf("stop packet tx: %w", err)
			}
			if again.AppMode == ModeContinuousTx {
				if err := s.Tx(0); err != nil {
					return fmt.Errorf("stop packet tx: %w", err)
				}
			}
		}
	case ModeNone:
	default:
		return &UnknownModeError{Mode: st.AppMode.String()}
	}

	st, err = s.Status()
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if st.RxActive {
		if err := s.Rx(false); err != nil {
			return fmt.Errorf("stop rx: %w", err)
		}
	}
	if st.TxActive {
		if err := s.Tx(0); err != nil {
			return fmt.Errorf("stop tx: %w", err)
		}
	}
	return nil
}

// Close stops any activity and releases the link. It can be called any number
// of times; if the link was already closed it is reopened just long enough to
// send the stop commands.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	if s.tr.Closed() {
		log.Debug("Reopening link for teardown")
		if err := s.tr.Reopen(); err != nil {
			return fmt.Errorf("teardown: %w", err)
		}
	}
	s.closed = true
	stopErr := s.Stop()
	if stopErr != nil {
		log.Errorf("Could not stop DUT during teardown: %v", stopErr)
	}
	return errors.Join(stopErr, s.tr.Close())
}

// Flush clears the link in both directions.
func (s *Session) Flush() error {
	return s.tr.Flush()
}

// Transmit stops whatever is running, tunes to hz and starts the given TX mode.
func (s *Session) Transmit(mode TxMode, hz float64, p Power) error {
	if err := s.Stop(); err != nil {
		return err
	}
	if err := s.tune(hz); err != nil {
		return err
	}
	if s.conf.PaMode != "" {
		if err := s.SetPowerConfig(s.conf.PaMode, s.conf.PaVoltageMv, s.conf.PaRampUs); err != nil {
			return err
		}
	}
	if err := s.SetPower(p); err != nil {
		return err
	}
	log.Infof("Starting TX %s at %.3f MHz %s", mode, hz/1e6, p)

	switch mode {
	case TxCW:
		return s.SetTxTone(true, ToneCW, 0)
	case TxPN9:
		return s.SetTxStream(true, StreamPN9, 0)
	case TxContinuousPackets:
		if s.conf.TxDelayMs > 0 {
			if err := s.SetTxDelay(s.conf.TxDelayMs); err != nil {
				return err
			}
		}
		return s.Tx(0)
	}
	return fmt.Errorf("unknown tx mode %d", int(mode))
}

func (s *Session) tune(hz float64) error {
	if err := s.SetDebugMode(true); err != nil {
		return err
	}
	return s.FreqOverride(hz)
}

// SetTransmitData loads data into the TX buffer, zero padded to whole chunks.
func (s *Session) SetTransmitData(data []byte) error {
	n := len(data)
	if rem := n % packetChunk; rem != 0 {
		n += packetChunk - rem
	}
	padded := make([]byte, n)
	copy(padded, data)

	if err := s.SetTxLength(n); err != nil {
		return err
	}
	s.txPackets = n / packetChunk
	for off := 0; off < n; off += packetChunk {
		if err := s.SetTxPayload(off, padded[off:off+packetChunk]); err != nil {
			return err
		}
	}
	return nil
}

// SendPacketInBuffer transmits the loaded buffer and waits for a completed
// (txEnd) notification.
func (s *Session) SendPacketInBuffer(timeout time.Duration) error {
	if err := s.Tx(s.txPackets); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	var seen string
	for time.Now().Before(deadline) {
		chunk, err := s.tr.Read(transport.None, 100*time.Millisecond)
		if err != nil {
			return err
		}
		seen += chunk
		recs, err := response.Parse(seen)
		if err != nil {
			// Partial block, keep reading.
			continue
		}
		for _, r := range recs {
			if r.Type == "(txEnd)" && r.Text("txStatus") == "Complete" {
				return nil
			}
		}
	}
	return ErrTxIncomplete
}

func (s *Session) TransmitData(data []byte, hz float64, p Power, timeout time.Duration) error {
	if err := s.SetTransmitData(data); err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		return err
	}
	if err := s.SetPower(p); err != nil {
		return err
	}
	if err := s.tune(hz); err != nil {
		return err
	}
	return s.SendPacketInBuffer(timeout)
}

// StartReceive stops any activity and turns the receiver on at hz.
func (s *Session) StartReceive(hz float64) error {
	if err := s.Stop(); err != nil {
		return err
	}
	if err := s.tune(hz); err != nil {
		return err
	}
	return s.Rx(true)
}

// ReceivePackets listens at hz for window and returns the payload of every
// (rxPacket) notification seen, then stops.
func (s *Session) ReceivePackets(hz float64, window time.Duration) ([]string, error) {
	if err := s.StartReceive(hz); err != nil {
		return nil, err
	}
	var payloads []string
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		line, err := s.tr.Read(transport.Newline, time.Until(deadline))
		var timeout *transport.ReadTimeoutError
		if errors.As(err, &timeout) {
			log.Debug("Receive window over")
			break
		}
		if err != nil {
			return payloads, err
		}
		recs, err := response.Parse(line)
		if err != nil {
			log.Warnf("Skipping unreadable RX line: %v", err)
			continue
		}
		for _, r := range recs {
			if r.Type != "(rxPacket)" {
				log.Debugf("Ignoring %s while receiving", r.Type)
				continue
			}
			payloads = append(payloads, r.Text("payload"))
		}
	}
	if err := s.tr.Flush(); err != nil {
		return payloads, err
	}
	return payloads, s.Stop()
}

// ReadRSSI returns the RSSI in dBm, averaged over conf.RssiAverageUs when set.
func (s *Session) ReadRSSI() (float64, error) {
	if s.conf.RssiAverageUs <= 0 {
		return s.GetRssi()
	}
	if err := s.StartAvgRssi(s.conf.RssiAverageUs, -1); err != nil {
		return 0, err
	}
	time.Sleep(time.Duration(s.conf.RssiAverageUs) * time.Microsecond)
	return s.GetAvgRssi()
}
