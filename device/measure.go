package device

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Measurement is one receiver quality reading. ErrorRatePercent is bit or
// packet error rate depending on the method used.
type Measurement struct {
	ErrorRatePercent  float64
	CompletionPercent float64
	RSSI              float64
}

// NoSignal reports a reading where the DUT saw nothing at all.
func (m Measurement) NoSignal() bool {
	return m.CompletionPercent == 0 && m.RSSI == 0
}

// MeasureBER receives a PN9 stream at hz (0 keeps the current frequency) and
// polls berStatus until nbytes are counted or timeout passes. A timeout is not
// an error; the partial figures are returned.
func (s *Session) MeasureBER(nbytes int, timeout time.Duration, hz float64) (Measurement, error) {
	if err := s.StartBitErrorRateReceive(hz, nbytes); err != nil {
		return Measurement{}, err
	}

	var m Measurement
	start := time.Now()
	for m.CompletionPercent < 100 {
		time.Sleep(s.poll)
		st, err := s.BerStatus()
		if err != nil {
			return m, err
		}
		m = Measurement{ErrorRatePercent: st.ErrorPercent, CompletionPercent: st.DonePercent, RSSI: st.RSSI}
		log.Debugf("BER: %.4f%%, done: %.1f%%, RSSI: %.1f", m.ErrorRatePercent, m.CompletionPercent, m.RSSI)
		if time.Since(start) > timeout {
			log.Warn("Timeout during BER measurement")
			break
		}
	}
	return m, nil
}

// StartBitErrorRateReceive stops whatever is running and starts counting
// nbytes of PN9 at hz. hz of 0 keeps the current frequency.
func (s *Session) StartBitErrorRateReceive(hz float64, nbytes int) error {
	if err := s.Stop(); err != nil {
		return err
	}
	if hz != 0 {
		if err := s.tune(hz); err != nil {
			return err
		}
	}
	if err := s.SetBerConfig(nbytes); err != nil {
		return err
	}
	return s.BerRx(true)
}

// Trigger makes an external source send n packets.
type Trigger func(n int) error

// MeasurePER listens at hz while trigger sends npackets, then polls the
// receive counter until all arrive or timeout passes.
func (s *Session) MeasurePER(npackets int, timeout time.Duration, hz float64, trigger Trigger) (Measurement, error) {
	if npackets <= 0 {
		return Measurement{}, fmt.Errorf("packet count must be positive, got %d", npackets)
	}
	if err := s.Stop(); err != nil {
		return Measurement{}, err
	}
	if hz != 0 {
		if err := s.tune(hz); err != nil {
			return Measurement{}, err
		}
	}
	if err := s.Rx(true); err != nil {
		return Measurement{}, err
	}
	if err := s.ResetCounters(); err != nil {
		return Measurement{}, err
	}
	if err := trigger(npackets); err != nil {
		return Measurement{}, fmt.Errorf("trigger: %w", err)
	}

	m := Measurement{ErrorRatePercent: 100}
	start := time.Now()
	for {
		time.Sleep(s.poll)
		recs, err := s.call("status", "status")
		if err != nil {
			return m, err
		}
		var received int64
		for _, r := range recs {
			switch r.Type {
			case "(status)":
				st, err := StatusFromRecord(r)
				if err != nil {
					return m, err
				}
				received = st.RxCount
			case "(rxPacket)":
				if rssi, err := r.Float("rssi"); err == nil {
					m.RSSI = rssi
				}
			default:
				log.Warnf("Unexpected %s during PER", r.Type)
			}
		}
		// Stray packets from another source can push the count past npackets.
		m.CompletionPercent = min(100, float64(received)/float64(npackets)*100)
		m.ErrorRatePercent = 100 - m.CompletionPercent
		log.Debugf("PER: %.2f%%, received %d/%d, RSSI: %.1f", m.ErrorRatePercent, received, npackets, m.RSSI)

		if received >= int64(npackets) {
			break
		}
		if time.Since(start) > timeout {
			log.Warn("Timeout during PER measurement")
			break
		}
	}
	if err := s.ResetCounters(); err != nil {
		return m, err
	}
	return m, nil
}
