package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jrwynneiii/railtuner/response"
)

// AppMode is the firmware's current activity.
type AppMode int

const (
	ModeNone AppMode = iota
	ModePacketTx
	ModeContinuousTx
	ModeStream
	ModeBER
)

var appModeNames = map[string]AppMode{
	"NONE":         ModeNone,
	"PACKETTX":     ModePacketTx,
	"CONTINUOUSTX": ModeContinuousTx,
	"STREAM":       ModeStream,
	"BER":          ModeBER,
}

// ParseAppMode is case-insensitive. Anything outside the known set is an
// UnknownModeError, never ModeNone.
func ParseAppMode(s string) (AppMode, error) {
	if m, ok := appModeNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return ModeNone, &UnknownModeError{Mode: s}
}

func (m AppMode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModePacketTx:
		return "PacketTx"
	case ModeContinuousTx:
		return "ContinuousTx"
	case ModeStream:
		return "Stream"
	case ModeBER:
		return "BER"
	}
	return fmt.Sprintf("AppMode(%d)", int(m))
}

// Status is one snapshot of the firmware's status reply.
type Status struct {
	UserTxCount     int64
	AckTxCount      int64
	UserTxAborted   int64
	AckTxAborted    int64
	UserTxBlocked   int64
	AckTxBlocked    int64
	UserTxUnderflow int64
	AckTxUnderflow  int64
	RxCount         int64
	RxCrcErrDrop    int64
	SyncDetect      int64
	NoRxBuffer      int64
	TxRemainErrs    int64
	RfSensed        int64
	AckTimeout      int64
	AckTxFpSet      int64
	AckTxFpFail     int64
	AckTxFpAddrFail int64
	TimingLost      int64
	TimingDetect    int64
	FrameErrors     int64
	RxFifoFull      int64
	RxOverflow      int64
	AddrFilt        int64
	Aborted         int64
	RxBeams         int64
	DataRequests    int64
	Calibrations    int64
	TxChannelBusy   int64
	TxClear         int64
	TxCca           int64
	TxRetry         int64
	UserTxStarted   int64
	PaProtect       int64
	SubPhy          [4]int64
	Channel         int64

	RfState          string
	RxRawSourceBytes string

	Active   bool
	RxActive bool
	TxActive bool
	AppMode  AppMode
}

var statusCounters = map[string]func(*Status) *int64{
	"UserTxCount":     func(s *Status) *int64 { return &s.UserTxCount },
	"AckTxCount":      func(s *Status) *int64 { return &s.AckTxCount },
	"UserTxAborted":   func(s *Status) *int64 { return &s.UserTxAborted },
	"AckTxAborted":    func(s *Status) *int64 { return &s.AckTxAborted },
	"UserTxBlocked":   func(s *Status) *int64 { return &s.UserTxBlocked },
	"AckTxBlocked":    func(s *Status) *int64 { return &s.AckTxBlocked },
	"UserTxUnderflow": func(s *Status) *int64 { return &s.UserTxUnderflow },
	"AckTxUnderflow":  func(s *Status) *int64 { return &s.AckTxUnderflow },
	"RxCount":         func(s *Status) *int64 { return &s.RxCount },
	"RxCrcErrDrop":    func(s *Status) *int64 { return &s.RxCrcErrDrop },
	"SyncDetect":      func(s *Status) *int64 { return &s.SyncDetect },
	"NoRxBuffer":      func(s *Status) *int64 { return &s.NoRxBuffer },
	"TxRemainErrs":    func(s *Status) *int64 { return &s.TxRemainErrs },
	"RfSensed":        func(s *Status) *int64 { return &s.RfSensed },
	"ackTimeout":      func(s *Status) *int64 { return &s.AckTimeout },
	"ackTxFpSet":      func(s *Status) *int64 { return &s.AckTxFpSet },
	"ackTxFpFail":     func(s *Status) *int64 { return &s.AckTxFpFail },
	"ackTxFpAddrFail": func(s *Status) *int64 { return &s.AckTxFpAddrFail },
	"TimingLost":      func(s *Status) *int64 { return &s.TimingLost },
	"TimingDetect":    func(s *Status) *int64 { return &s.TimingDetect },
	"FrameErrors":     func(s *Status) *int64 { return &s.FrameErrors },
	"RxFifoFull":      func(s *Status) *int64 { return &s.RxFifoFull },
	"RxOverflow":      func(s *Status) *int64 { return &s.RxOverflow },
	"AddrFilt":        func(s *Status) *int64 { return &s.AddrFilt },
	"Aborted":         func(s *Status) *int64 { return &s.Aborted },
	"RxBeams":         func(s *Status) *int64 { return &s.RxBeams },
	"DataRequests":    func(s *Status) *int64 { return &s.DataRequests },
	"Calibrations":    func(s *Status) *int64 { return &s.Calibrations },
	"TxChannelBusy":   func(s *Status) *int64 { return &s.TxChannelBusy },
	"TxClear":         func(s *Status) *int64 { return &s.TxClear },
	"TxCca":           func(s *Status) *int64 { return &s.TxCca },
	"TxRetry":         func(s *Status) *int64 { return &s.TxRetry },
	"UserTxStarted":   func(s *Status) *int64 { return &s.UserTxStarted },
	"PaProtect":       func(s *Status) *int64 { return &s.PaProtect },
	"SubPhy0":         func(s *Status) *int64 { return &s.SubPhy[0] },
	"SubPhy1":         func(s *Status) *int64 { return &s.SubPhy[1] },
	"SubPhy2":         func(s *Status) *int64 { return &s.SubPhy[2] },
	"SubPhy3":         func(s *Status) *int64 { return &s.SubPhy[3] },
	"Channel":         func(s *Status) *int64 { return &s.Channel },
}

var statusFlags = map[string]func(*Status) *bool{
	"RAIL_state_active": func(s *Status) *bool { return &s.Active },
	"RAIL_state_rx":     func(s *Status) *bool { return &s.RxActive },
	"RAIL_state_tx":     func(s *Status) *bool { return &s.TxActive },
}

// StatusFromRecord decodes a (status) record. Keys the firmware does not send
// stay zero; keys it sends must parse.
func StatusFromRecord(r response.Record) (Status, error) {
	var s Status
	for _, key := range r.Keys() {
		value := strings.TrimSpace(r.Text(key))
		switch {
		case statusCounters[key] != nil:
			n, err := strconv.ParseInt(value, 0, 64)
			if err != nil {
				return Status{}, &response.MalformedResponseError{Raw: r.Encode(), Reason: fmt.Sprintf("%s=%q", key, value)}
			}
			*statusCounters[key](&s) = n
		case statusFlags[key] != nil:
			b, err := parseFlag(value)
			if err != nil {
				return Status{}, &response.MalformedResponseError{Raw: r.Encode(), Reason: fmt.Sprintf("%s=%q", key, value)}
			}
			*statusFlags[key](&s) = b
		case key == "AppMode":
			mode, err := ParseAppMode(value)
			if err != nil {
				return Status{}, err
			}
			s.AppMode = mode
		case key == "RfState":
			s.RfState = value
		case key == "rxRawSourceBytes":
			s.RxRawSourceBytes = value
		}
	}
	if !r.Has("AppMode") {
		return Status{}, &response.MalformedResponseError{Raw: r.Encode(), Reason: "status without AppMode"}
	}
	return s, nil
}

func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "enabled", "on", "yes":
		return true, nil
	case "disabled", "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}
