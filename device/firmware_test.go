package device

import (
	"strconv"
	"strings"
	"testing"

	"github.com/jrwynneiii/railtuner/config"
	"github.com/jrwynneiii/railtuner/transport"
	"github.com/jrwynneiii/railtuner/transport/transporttest"
	"github.com/stretchr/testify/require"
)

// firmware is a small RAILtest model: it tracks the app mode and radio state
// and answers the commands the session issues.
type firmware struct {
	mode  string
	rx    bool
	tx    bool
	ctune int
	rxCnt int

	// queued raw replies, consumed before the model answers
	queued map[string][]string
	ber    []string
}

func newFirmware() *firmware {
	return &firmware{mode: "None", ctune: 120, queued: map[string][]string{}}
}

func (f *firmware) queue(cmd string, replies ...string) {
	f.queued[cmd] = append(f.queued[cmd], replies...)
}

func flag(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func (f *firmware) handle(cmd string) string {
	if q := f.queued[cmd]; len(q) > 0 {
		f.queued[cmd] = q[1:]
		return q[0]
	}
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return transporttest.Reply()
	}
	name := fields[0]
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	rec := transporttest.Record
	switch name {
	case "status":
		return transporttest.Reply(rec("status",
			"UserTxCount", "0",
			"RxCount", strconv.Itoa(f.rxCnt),
			"RfState", "Idle",
			"RAIL_state_active", flag(f.rx || f.tx),
			"RAIL_state_rx", flag(f.rx),
			"RAIL_state_tx", flag(f.tx),
			"Channel", "0",
			"AppMode", f.mode,
		))
	case "rx":
		f.rx = arg(1) == "1"
		return transporttest.Reply(rec("rx", "Rx", map[bool]string{true: "Enabled", false: "Disabled"}[f.rx]))
	case "tx":
		if arg(1) == "0" {
			f.mode, f.tx = "None", false
		} else {
			f.mode, f.tx = "PacketTx", true
		}
		return transporttest.Reply(rec("tx", "PacketTx", arg(1)))
	case "setTxStream":
		if arg(1) == "1" {
			f.mode, f.tx = "Stream", true
		} else {
			f.mode, f.tx = "None", false
		}
		return transporttest.Reply(rec("setTxStream", "Stream", arg(1)))
	case "setTxTone":
		f.tx = arg(1) == "1"
		return transporttest.Reply(rec("setTxTone", "Tone", arg(1)))
	case "berRx":
		if arg(1) == "1" {
			f.mode, f.rx = "BER", true
		} else {
			f.mode, f.rx = "None", false
		}
		return transporttest.Reply(rec("berRx", "BerRx", arg(1)))
	case "berStatus":
		if len(f.ber) > 0 {
			r := f.ber[0]
			if len(f.ber) > 1 {
				f.ber = f.ber[1:]
			}
			return r
		}
		return transporttest.Reply(rec("berStatus", "BitsToTest", "0", "PercentDone", "0.00", "PercentBitError", "0.00", "RSSI", "0"))
	case "getRssi":
		return transporttest.Reply(rec("getRssi", "rssi", "-73.5"))
	case "getAvgRssi":
		return transporttest.Reply(rec("getAvgRssi", "rssi", "-80.25"))
	case "getCtune":
		return transporttest.Reply(rec("getCtune", "CTUNEXIANA", strconv.Itoa(f.ctune)))
	case "setCtune":
		f.ctune, _ = strconv.Atoi(arg(1))
		return transporttest.Reply(rec("setCtune", "CTUNEXIANA", arg(1)))
	}
	return transporttest.Reply(rec(name))
}

var testConf = config.DeviceConf{CommandTimeoutMs: 100, PollIntervalMs: 1}

func newTestSession(t *testing.T, fw *firmware) (*Session, *transporttest.Link) {
	t.Helper()
	return newTestSessionConf(t, fw, testConf)
}

func newTestSessionConf(t *testing.T, fw *firmware, conf config.DeviceConf) (*Session, *transporttest.Link) {
	t.Helper()
	link := transporttest.New(fw.handle)
	tr, err := transport.New(link.Opener())
	require.NoError(t, err)
	s, err := NewSession(tr, conf, false)
	require.NoError(t, err)
	return s, link
}

// sentSince returns the commands written after the first n.
func sentSince(link *transporttest.Link, n int) []string {
	return link.Written()[n:]
}
