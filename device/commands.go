package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jrwynneiii/railtuner/response"
)

type ToneMode int

const (
	ToneCW ToneMode = iota
	TonePhaseNoise
)

type StreamMode int

const (
	StreamCW StreamMode = iota
	StreamPN9
	StreamAlternating
	StreamPhaseNoise
)

// Power is a PA setting, either in dBm or in raw PA units.
type Power struct {
	Value float64
	Raw   bool
}

func DBm(v float64) Power  { return Power{Value: v} }
func RawPower(v int) Power { return Power{Value: float64(v), Raw: true} }

func (p Power) String() string {
	if p.Raw {
		return fmt.Sprintf("%d raw", int(p.Value))
	}
	return fmt.Sprintf("%.1f dBm", p.Value)
}

// BERStatus is one berStatus poll.
type BERStatus struct {
	ErrorPercent float64
	DonePercent  float64
	RSSI         float64
}

func onOff(on bool) int {
	if on {
		return 1
	}
	return 0
}

func (s *Session) command(expected, format string, args ...any) ([]response.Record, error) {
	return s.call(fmt.Sprintf(format, args...), expected)
}

func (s *Session) Reset() error {
	_, err := s.corr.CallAfter("reset", "reset", s.resetSettle, s.resetTimeout)
	return err
}

func (s *Session) Status() (Status, error) {
	recs, err := s.call("status", "status")
	if err != nil {
		return Status{}, err
	}
	r, _ := response.Find(recs, "(status)")
	return StatusFromRecord(r)
}

func (s *Session) SetDebugMode(on bool) error {
	_, err := s.command("setDebugMode", "setDebugMode %d", onOff(on))
	return err
}

func (s *Session) FreqOverride(hz float64) error {
	_, err := s.command("freqOverride", "freqOverride %d", int64(math.Round(hz)))
	return err
}

// SetPower takes dBm in tenths on the wire, or raw PA units.
func (s *Session) SetPower(p Power) error {
	var err error
	if p.Raw {
		_, err = s.command("setPower", "setPower %d raw", int(p.Value))
	} else {
		_, err = s.command("setPower", "setPower %d", int(math.Round(p.Value*10)))
	}
	return err
}

func (s *Session) GetPower() (response.Record, error) {
	return s.single("getPower")
}

func (s *Session) SetTxTone(on bool, mode ToneMode, antenna int) error {
	_, err := s.command("setTxTone", "setTxTone %d %d %d", onOff(on), antenna, int(mode))
	return err
}

func (s *Session) Tx(packets int) error {
	_, err := s.command("tx", "tx %d", packets)
	return err
}

func (s *Session) SetTxStream(on bool, mode StreamMode, antenna int) error {
	_, err := s.command("setTxStream", "setTxStream %d %d %d", onOff(on), int(mode), antenna)
	return err
}

func (s *Session) SetTxLength(n int) error {
	_, err := s.command("setTxLength", "setTxLength %d", n)
	return err
}

func (s *Session) SetTxPayload(offset int, data []byte) error {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = strconv.Itoa(int(b))
	}
	_, err := s.command("setTxPayload", "setTxPayload %d %s", offset, strings.Join(parts, " "))
	return err
}

// PrintTxPacket returns the payload currently loaded for transmission.
func (s *Session) PrintTxPacket() ([]byte, error) {
	r, err := s.single("printTxPacket")
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, f := range strings.Fields(r.Text("payload")) {
		b, err := strconv.ParseUint(f, 0, 8)
		if err != nil {
			return nil, &response.MalformedResponseError{Raw: r.Encode(), Reason: "payload byte " + f}
		}
		out = append(out, byte(b))
	}
	return out, nil
}

func (s *Session) Rx(on bool) error {
	_, err := s.command("rx", "rx %d", onOff(on))
	return err
}

func (s *Session) GetRssi() (float64, error) {
	r, err := s.single("getRssi")
	if err != nil {
		return 0, err
	}
	return r.Float("rssi")
}

func (s *Session) StartAvgRssi(averageUs, channel int) error {
	var err error
	if channel < 0 {
		_, err = s.command("startAvgRssi", "startAvgRssi %d", averageUs)
	} else {
		_, err = s.command("startAvgRssi", "startAvgRssi %d %d", averageUs, channel)
	}
	return err
}

func (s *Session) GetAvgRssi() (float64, error) {
	r, err := s.single("getAvgRssi")
	if err != nil {
		return 0, err
	}
	return r.Float("rssi")
}

func (s *Session) BerRx(on bool) error {
	_, err := s.command("berRx", "berRx %d", onOff(on))
	return err
}

func (s *Session) SetBerConfig(nbytes int) error {
	_, err := s.command("setBerConfig", "setBerConfig %d", nbytes)
	return err
}

func (s *Session) BerStatus() (BERStatus, error) {
	r, err := s.single("berStatus")
	if err != nil {
		return BERStatus{}, err
	}
	var st BERStatus
	if st.ErrorPercent, err = r.Float("PercentBitError"); err != nil {
		return BERStatus{}, err
	}
	if st.DonePercent, err = r.Float("PercentDone"); err != nil {
		return BERStatus{}, err
	}
	if st.RSSI, err = r.Float("RSSI"); err != nil {
		return BERStatus{}, err
	}
	return st, nil
}

func (s *Session) ResetCounters() error {
	_, err := s.call("resetCounters", "resetCounters")
	return err
}

func (s *Session) GetVersion() (response.Record, error) {
	return s.single("getVersion")
}

func (s *Session) GetVersionVerbose() (response.Record, error) {
	return s.single("getVersionVerbose")
}

var ctuneKeys = []string{"CTUNE", "CTUNEXIANA", "ctune", "Ctune"}

func (s *Session) GetCtune() (int, error) {
	r, err := s.single("getCtune")
	if err != nil {
		return 0, err
	}
	for _, k := range ctuneKeys {
		if r.Has(k) {
			v, err := r.Int(k)
			return int(v), err
		}
	}
	return 0, &response.MalformedResponseError{Raw: r.Encode(), Reason: "no ctune value"}
}

func (s *Session) SetCtune(v int) error {
	_, err := s.command("setCtune", "setCtune %d", v)
	return err
}

func (s *Session) SetTxTransitions(success, failure string) error {
	_, err := s.command("setTxTransitions", "setTxTransitions %s %s", success, failure)
	return err
}

func (s *Session) GetPowerConfig() (response.Record, error) {
	return s.single("getPowerConfig")
}

func (s *Session) SetPowerConfig(mode string, milliVolts, rampUs int) error {
	_, err := s.command("setPowerConfig", "setPowerConfig %s %d %d", mode, milliVolts, rampUs)
	return err
}

func (s *Session) SetTxDelay(ms int) error {
	_, err := s.command("setTxDelay", "setTxDelay %d", ms)
	return err
}

func (s *Session) SetChannel(ch int) error {
	_, err := s.command("setChannel", "setChannel %d", ch)
	return err
}

func (s *Session) SetConfigIndex(id int) error {
	_, err := s.command("setconfigindex", "setconfigindex %d", id)
	return err
}

func (s *Session) FifoReset(tx, rx bool) error {
	_, err := s.command("fifoReset", "fifoReset %d %d", onOff(tx), onOff(rx))
	return err
}

// single issues an argument-less command and returns its own record.
func (s *Session) single(cmd string) (response.Record, error) {
	recs, err := s.call(cmd, cmd)
	if err != nil {
		return response.Record{}, err
	}
	r, _ := response.Find(recs, "("+cmd+")")
	return r, nil
}
