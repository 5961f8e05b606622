package device

import (
	"errors"
	"testing"
	"time"

	"github.com/jrwynneiii/railtuner/response"
	"github.com/jrwynneiii/railtuner/transport"
	"github.com/jrwynneiii/railtuner/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "matching type",
			raw:      "{{(status)}{AppMode:None}}",
			expected: "status",
			check:    func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:     "no records",
			raw:      "\r\n> ",
			expected: "status",
			check: func(t *testing.T, err error) {
				var target *NoResponseError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name:     "wrong type",
			raw:      "{{(rx)}{Rx:Disabled}}",
			expected: "status",
			check: func(t *testing.T, err error) {
				var target *UnexpectedResponseError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "(status)", target.Expected)
				assert.Equal(t, []string{"(rx)"}, target.Got)
			},
		},
		{
			name:     "error key beats matching type",
			raw:      "{{(setPower)}{error:Invalid power}{errorCode:0x12}}",
			expected: "setPower",
			check: func(t *testing.T, err error) {
				var target *DeviceError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "Invalid power", target.Message)
				assert.Equal(t, "0x12", target.Code)
			},
		},
		{
			name:     "assert",
			raw:      "{{(assert)}{message:rail_util.c:42}}",
			expected: "tx",
			check: func(t *testing.T, err error) {
				var target *DeviceFaultError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "rail_util.c:42", target.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := response.Parse(tt.raw)
			require.NoError(t, err)
			tt.check(t, Check(tt.expected, tt.expected, tt.raw, recs))
		})
	}
}

func TestCallRetriesOnceAfterFlush(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	n := len(link.Written())

	fw.queue("status", "garbage\r\n> ")
	st, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, ModeNone, st.AppMode)
	assert.Equal(t, []string{"status", "status"}, sentSince(link, n))
}

func TestCallDoesNotRetryFirmwareErrors(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	n := len(link.Written())

	fw.queue("setPower 100", transporttest.Reply(transporttest.Record("setPower", "error", "out of range")))
	err := s.SetPower(DBm(10))
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, []string{"setPower 100"}, sentSince(link, n))
}

func TestSessionInit(t *testing.T) {
	fw := newFirmware()
	fw.rx = true
	_, link := newTestSession(t, fw)
	assert.Equal(t, []string{"rx 0", "status"}, link.Written())
	assert.False(t, fw.rx)
}

func TestStopIdleIsIdempotent(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	n := len(link.Written())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, []string{"status", "status", "status", "status"}, sentSince(link, n))
}

func TestStopByMode(t *testing.T) {
	tests := []struct {
		mode string
		rx   bool
		tx   bool
		sent []string
	}{
		{mode: "ContinuousTx", tx: true, sent: []string{"status", "tx 0", "status"}},
		{mode: "Stream", tx: true, sent: []string{"status", "setTxStream 0 0 0", "status"}},
		{mode: "BER", rx: true, sent: []string{"status", "berRx 0", "status"}},
		{mode: "None", rx: true, sent: []string{"status", "status", "rx 0"}},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			fw := newFirmware()
			s, link := newTestSession(t, fw)
			fw.mode, fw.rx, fw.tx = tt.mode, tt.rx, tt.tx
			n := len(link.Written())

			require.NoError(t, s.Stop())
			assert.Equal(t, tt.sent, sentSince(link, n))
			assert.Equal(t, "None", fw.mode)
			assert.False(t, fw.rx)
			assert.False(t, fw.tx)
		})
	}
}

func TestStopPacketTxRace(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	fw.mode, fw.tx = "PacketTx", true
	n := len(link.Written())

	// The burst ends while tx 0 is in flight: the firmware answers with the
	// end notification and drops into continuous mode.
	fw.queue("tx 0", transporttest.Reply(transporttest.Record("txEnd", "txStatus", "Complete")))
	fw.queue("status",
		transporttest.Reply(transporttest.Record("status", "AppMode", "PacketTx", "RAIL_state_tx", "True")),
		transporttest.Reply(transporttest.Record("status", "AppMode", "ContinuousTx", "RAIL_state_tx", "True")),
	)

	require.NoError(t, s.Stop())
	assert.Equal(t, []string{"status", "tx 0", "status", "tx 0", "status"}, sentSince(link, n))
	assert.Equal(t, "None", fw.mode)
}

func TestStopUnknownMode(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	fw.mode = "Sleepy"
	n := len(link.Written())

	err := s.Stop()
	var unknown *UnknownModeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Sleepy", unknown.Mode)
	assert.Equal(t, []string{"status"}, sentSince(link, n))
}

func TestStopRetriesGarbledStatus(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	n := len(link.Written())

	// Unbalanced braces, as when status lands on top of a notification.
	fw.queue("status", "{{(status)}{AppMode:None}\r\n> ")

	require.NoError(t, s.Stop())
	assert.Equal(t, []string{"status", "status", "status"}, sentSince(link, n))
}

func TestCloseRetriesAfterFailedReopen(t *testing.T) {
	fw := newFirmware()
	link := transporttest.New(fw.handle)
	open := link.Opener()
	busy := false
	tr, err := transport.New(func() (transport.Link, error) {
		if busy {
			return nil, errors.New("port busy")
		}
		return open()
	})
	require.NoError(t, err)
	s, err := NewSession(tr, testConf, false)
	require.NoError(t, err)
	fw.mode, fw.tx = "Stream", true

	require.NoError(t, tr.Close())
	busy = true
	var linkErr *transport.LinkError
	require.ErrorAs(t, s.Close(), &linkErr)

	busy = false
	require.NoError(t, s.Close())
	assert.Equal(t, "None", fw.mode)
	assert.True(t, link.IsClosed())
}

func TestCloseIsIdempotentAndReopens(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	fw.mode, fw.tx = "Stream", true

	require.NoError(t, s.tr.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 2, link.Opens())
	assert.Equal(t, "None", fw.mode)
	assert.True(t, link.IsClosed())

	n := len(link.Written())
	require.NoError(t, s.Close())
	assert.Empty(t, sentSince(link, n))
}

func TestTransmit(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	n := len(link.Written())

	require.NoError(t, s.Transmit(TxCW, 2440e6, DBm(12.3)))
	assert.Equal(t, []string{
		"status", "status",
		"setDebugMode 1",
		"freqOverride 2440000000",
		"setPower 123",
		"setTxTone 1 0 0",
	}, sentSince(link, n))

	n = len(link.Written())
	require.NoError(t, s.Transmit(TxPN9, 868.3e6, RawPower(40)))
	sent := sentSince(link, n)
	assert.Contains(t, sent, "setPower 40 raw")
	assert.Equal(t, "setTxStream 1 1 0", sent[len(sent)-1])
}

func TestTransmitContinuousPacketsSetsDelay(t *testing.T) {
	fw := newFirmware()
	conf := testConf
	conf.TxDelayMs = 50
	s, link := newTestSessionConf(t, fw, conf)
	n := len(link.Written())

	require.NoError(t, s.Transmit(TxContinuousPackets, 915e6, DBm(0)))
	sent := sentSince(link, n)
	assert.Equal(t, []string{"setTxDelay 50", "tx 0"}, sent[len(sent)-2:])
}

func TestTransmitData(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	rec := transporttest.Record
	fw.queue("tx 1", transporttest.Reply(rec("tx", "PacketTx", "1"))+rec("txEnd", "txStatus", "Complete")+"\r\n")
	n := len(link.Written())

	require.NoError(t, s.TransmitData([]byte{0xaa, 0x55}, 868.3e6, DBm(10), time.Second))
	assert.Equal(t, []string{
		"setTxLength 16",
		"setTxPayload 0 170 85 0 0 0 0 0 0 0 0 0 0 0 0 0 0",
		"status", "status",
		"setPower 100",
		"setDebugMode 1",
		"freqOverride 868300000",
		"tx 1",
	}, sentSince(link, n))
}

func TestSendPacketInBufferTimesOut(t *testing.T) {
	fw := newFirmware()
	s, _ := newTestSession(t, fw)
	fw.queue("tx 1", transporttest.Reply(transporttest.Record("tx", "PacketTx", "1")))

	require.NoError(t, s.SetTransmitData([]byte{1}))
	assert.ErrorIs(t, s.SendPacketInBuffer(150*time.Millisecond), ErrTxIncomplete)
}

func TestReceivePackets(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	rec := transporttest.Record
	// Notifications stream in as \r\n terminated lines after the rx reply.
	fw.queue("rx 1", transporttest.Reply(rec("rx", "Rx", "Enabled"))+
		rec("rxPacket", "payload", "0x01 0x02", "rssi", "-60")+"\r\n"+
		rec("rxAbort", "reason", "crc")+"\r\n"+
		rec("rxPacket", "payload", "0x03")+"\r\n")
	n := len(link.Written())

	payloads, err := s.ReceivePackets(915e6, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x01 0x02", "0x03"}, payloads)
	assert.Equal(t, []string{
		"status", "status",
		"setDebugMode 1",
		"freqOverride 915000000",
		"rx 1",
		"status", "status",
	}, sentSince(link, n))
}

func TestSetTransmitDataPadsToChunks(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	n := len(link.Written())

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, s.SetTransmitData(data))

	sent := sentSince(link, n)
	require.Len(t, sent, 3)
	assert.Equal(t, "setTxLength 32", sent[0])
	assert.Equal(t, "setTxPayload 0 0 1 2 3 4 5 6 7 8 9 10 11 12 13 14 15", sent[1])
	assert.Equal(t, "setTxPayload 16 16 17 18 19 0 0 0 0 0 0 0 0 0 0 0 0", sent[2])
	assert.Equal(t, 2, s.txPackets)
}

func TestMeasureBER(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)
	rec := transporttest.Record
	fw.ber = []string{
		transporttest.Reply(rec("berStatus", "PercentDone", "40.00", "PercentBitError", "0.50", "RSSI", "-98")),
		transporttest.Reply(rec("berStatus", "PercentDone", "100.00", "PercentBitError", "0.25", "RSSI", "-97")),
	}
	n := len(link.Written())

	m, err := s.MeasureBER(1000, time.Second, 915e6)
	require.NoError(t, err)
	assert.Equal(t, Measurement{ErrorRatePercent: 0.25, CompletionPercent: 100, RSSI: -97}, m)
	assert.False(t, m.NoSignal())

	sent := sentSince(link, n)
	assert.Equal(t, []string{"status", "status", "setDebugMode 1", "freqOverride 915000000", "setBerConfig 1000", "berRx 1", "berStatus", "berStatus"}, sent)
}

func TestMeasureBERTimeoutKeepsPartial(t *testing.T) {
	fw := newFirmware()
	s, _ := newTestSession(t, fw)

	m, err := s.MeasureBER(1000, 20*time.Millisecond, 0)
	require.NoError(t, err)
	assert.True(t, m.NoSignal())
}

func TestMeasurePER(t *testing.T) {
	fw := newFirmware()
	s, _ := newTestSession(t, fw)

	var triggered int
	m, err := s.MeasurePER(100, 50*time.Millisecond, 2450e6, func(n int) error {
		triggered = n
		fw.rxCnt = 95
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 100, triggered)
	assert.InDelta(t, 5.0, m.ErrorRatePercent, 1e-9)
	assert.InDelta(t, 95.0, m.CompletionPercent, 1e-9)
}

func TestMeasurePERIgnoresExtraPackets(t *testing.T) {
	fw := newFirmware()
	s, _ := newTestSession(t, fw)

	m, err := s.MeasurePER(100, 50*time.Millisecond, 0, func(int) error {
		fw.rxCnt = 103
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, m.ErrorRatePercent)
	assert.Equal(t, 100.0, m.CompletionPercent)
}

func TestReadRSSIAveraged(t *testing.T) {
	fw := newFirmware()
	conf := testConf
	conf.RssiAverageUs = 1000
	s, link := newTestSessionConf(t, fw, conf)
	n := len(link.Written())

	rssi, err := s.ReadRSSI()
	require.NoError(t, err)
	assert.Equal(t, -80.25, rssi)
	assert.Equal(t, []string{"startAvgRssi 1000", "getAvgRssi"}, sentSince(link, n))
}

func TestCommandWrappers(t *testing.T) {
	fw := newFirmware()
	s, link := newTestSession(t, fw)

	tests := []struct {
		name string
		call func() error
		sent string
	}{
		{"channel", func() error { return s.SetChannel(3) }, "setChannel 3"},
		{"tx delay", func() error { return s.SetTxDelay(25) }, "setTxDelay 25"},
		{"config index", func() error { return s.SetConfigIndex(1) }, "setconfigindex 1"},
		{"fifo reset", func() error { return s.FifoReset(true, false) }, "fifoReset 1 0"},
		{"avg rssi", func() error { return s.StartAvgRssi(500, -1) }, "startAvgRssi 500"},
		{"avg rssi on channel", func() error { return s.StartAvgRssi(500, 2) }, "startAvgRssi 500 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := len(link.Written())
			require.NoError(t, tt.call())
			assert.Equal(t, []string{tt.sent}, sentSince(link, n))
		})
	}
}

func TestQueries(t *testing.T) {
	fw := newFirmware()
	s, _ := newTestSession(t, fw)
	rec := transporttest.Record
	fw.queue("getPowerConfig", transporttest.Reply(rec("getPowerConfig", "mode", "RAIL_TX_POWER_MODE_2P4_HP", "voltage", "3300", "rampTime", "10")))
	fw.queue("getVersionVerbose", transporttest.Reply(rec("getVersionVerbose", "App", "2.13.2.0", "RAIL", "2.13.2.0")))
	fw.queue("printTxPacket",
		transporttest.Reply(rec("printTxPacket", "payload", "0x0f 0x10 0x00")),
		transporttest.Reply(rec("printTxPacket", "payload", "0x0f zz")),
	)

	pc, err := s.GetPowerConfig()
	require.NoError(t, err)
	assert.Equal(t, "3300", pc.Text("voltage"))

	v, err := s.GetVersionVerbose()
	require.NoError(t, err)
	assert.Equal(t, "2.13.2.0", v.Text("RAIL"))

	payload, err := s.PrintTxPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0f, 0x10, 0x00}, payload)

	_, err = s.PrintTxPacket()
	var malformed *response.MalformedResponseError
	assert.ErrorAs(t, err, &malformed)

	_, err = s.GetPower()
	assert.NoError(t, err)
	avg, err := s.GetAvgRssi()
	require.NoError(t, err)
	assert.Equal(t, -80.25, avg)
}

func TestCtuneAndRssi(t *testing.T) {
	fw := newFirmware()
	s, _ := newTestSession(t, fw)

	require.NoError(t, s.SetCtune(88))
	v, err := s.GetCtune()
	require.NoError(t, err)
	assert.Equal(t, 88, v)

	rssi, err := s.ReadRSSI()
	require.NoError(t, err)
	assert.Equal(t, -73.5, rssi)
}

func TestStatusFromRecord(t *testing.T) {
	recs, err := response.Parse("{{(status)}{RxCount:7}{SubPhy2:3}{RfState:Rx}{RAIL_state_rx:True}{RAIL_state_tx:0}{AppMode:ber}}")
	require.NoError(t, err)

	st, err := StatusFromRecord(recs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.RxCount)
	assert.Equal(t, int64(3), st.SubPhy[2])
	assert.Equal(t, "Rx", st.RfState)
	assert.True(t, st.RxActive)
	assert.False(t, st.TxActive)
	assert.Equal(t, ModeBER, st.AppMode)

	recs, err = response.Parse("{{(status)}{RxCount:seven}{AppMode:None}}")
	require.NoError(t, err)
	_, err = StatusFromRecord(recs[0])
	var malformed *response.MalformedResponseError
	assert.ErrorAs(t, err, &malformed)
}
