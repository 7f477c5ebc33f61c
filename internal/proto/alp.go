package proto

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shaunagostinho/ardulink-go/internal/pin"
)

// ALP wire keys.
const (
	alpPrefix = "alp://"

	keyPowerPinSwitch    = "ppsw"
	keyPowerPinIntensity = "ppin"
	keyDigitalRead       = "dred"
	keyAnalogRead        = "ared"
	keyStartListenDig    = "srld"
	keyStartListenAna    = "srla"
	keyStopListenDig     = "spld"
	keyStopListenAna     = "spla"
	keyCustom            = "cust"
	keyTone              = "tone"
	keyNoTone            = "notn"
	keyReply             = "rply"
	keyReady             = "ready"

	replyOK = "ok"
	replyKO = "ko"
)

var alpDelimiter = []byte("\n")

// ALP is the Ardulink text protocol: "alp://<key>/<arg>/...[?id=N]\n".
// Numbers are plain decimal, digital states are 1 and 0.
type ALP struct{}

func (ALP) Name() string      { return "alp" }
func (ALP) Delimiter() []byte { return alpDelimiter }

// Encode renders a host command. Invalid messages fail before any bytes are
// produced.
func (ALP) Encode(msg ToDevice) ([]byte, error) {
	var (
		path string
		id   MessageID
	)
	switch m := msg.(type) {
	case PinWrite:
		if err := checkPin(m.Pin); err != nil {
			return nil, err
		}
		if m.Pin.IsDigital() {
			if m.Value != 0 && m.Value != 1 {
				return nil, fmt.Errorf("alp: digital value must be 0 or 1, got %d: %w", m.Value, ErrInvalidArgument)
			}
			path = join(keyPowerPinSwitch, m.Pin.Index, m.Value)
		} else {
			if m.Value < 0 {
				return nil, fmt.Errorf("alp: analog value must not be negative, got %d: %w", m.Value, ErrInvalidArgument)
			}
			path = join(keyPowerPinIntensity, m.Pin.Index, m.Value)
		}
		id = m.ID
	case StartListening:
		if err := checkPin(m.Pin); err != nil {
			return nil, err
		}
		key := keyStartListenAna
		if m.Pin.IsDigital() {
			key = keyStartListenDig
		}
		path, id = join(key, m.Pin.Index), m.ID
	case StopListening:
		if err := checkPin(m.Pin); err != nil {
			return nil, err
		}
		key := keyStopListenAna
		if m.Pin.IsDigital() {
			key = keyStopListenDig
		}
		path, id = join(key, m.Pin.Index), m.ID
	case Custom:
		if err := checkSegment(m.Command); err != nil {
			return nil, fmt.Errorf("alp: custom command: %w", err)
		}
		parts := append([]string{keyCustom, m.Command}, m.Args...)
		for _, a := range m.Args {
			if err := checkSegment(a); err != nil {
				return nil, fmt.Errorf("alp: custom argument: %w", err)
			}
		}
		path, id = strings.Join(parts, "/"), m.ID
	case NoOp:
		path, id = join(keyNoTone, 0), m.ID
	case Tone:
		if err := checkTonePin(m.Pin); err != nil {
			return nil, err
		}
		if m.Hertz <= 0 || m.Duration < 0 {
			return nil, fmt.Errorf("alp: tone needs a positive frequency and a non-negative duration: %w", ErrInvalidArgument)
		}
		ms := -1
		if m.Duration > 0 {
			ms = int(m.Duration / time.Millisecond)
		}
		path, id = join(keyTone, m.Pin.Index, m.Hertz, ms), m.ID
	case NoTone:
		if err := checkTonePin(m.Pin); err != nil {
			return nil, err
		}
		path, id = join(keyNoTone, m.Pin.Index), m.ID
	case nil:
		return nil, fmt.Errorf("alp: nil message: %w", ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("alp: cannot encode %T: %w", msg, ErrInvalidArgument)
	}
	return finish(path, id), nil
}

// Decode parses a frame sent by the device.
func (ALP) Decode(frame []byte) (FromDevice, error) {
	path, id, ok := split(frame)
	if !ok {
		return unrecognized(frame)
	}
	parts := strings.Split(path, "/")
	switch parts[0] {
	case keyAnalogRead, keyDigitalRead:
		if len(parts) != 3 || id.Valid {
			break
		}
		idx, err1 := parseNonNegative(parts[1])
		val, err2 := parseNonNegative(parts[2])
		if err1 != nil || err2 != nil {
			break
		}
		if parts[0] == keyAnalogRead {
			return PinChanged{Pin: pin.AnalogPin(idx), Value: val}, nil
		}
		if val > 1 {
			break
		}
		return PinChanged{Pin: pin.DigitalPin(idx), Value: val}, nil
	case keyReply:
		if len(parts) != 2 {
			break
		}
		switch parts[1] {
		case replyOK:
			return Reply{OK: true, ID: id}, nil
		case replyKO:
			return Reply{OK: false, ID: id}, nil
		}
	case keyReady:
		if len(parts) == 1 || (len(parts) == 2 && parts[1] == "") {
			return Ready{}, nil
		}
	}
	return unrecognized(frame)
}

// EncodeEvent renders a device message, mirroring Decode.
func (ALP) EncodeEvent(msg FromDevice) ([]byte, error) {
	switch m := msg.(type) {
	case PinChanged:
		if err := checkPin(m.Pin); err != nil {
			return nil, err
		}
		if m.Value < 0 || (m.Pin.IsDigital() && m.Value > 1) {
			return nil, fmt.Errorf("alp: value %d out of range for %s: %w", m.Value, m.Pin, ErrInvalidArgument)
		}
		key := keyAnalogRead
		if m.Pin.IsDigital() {
			key = keyDigitalRead
		}
		return finish(join(key, m.Pin.Index, m.Value), MessageID{}), nil
	case Reply:
		status := replyKO
		if m.OK {
			status = replyOK
		}
		return finish(keyReply+"/"+status, m.ID), nil
	case Ready:
		return finish(keyReady+"/", MessageID{}), nil
	default:
		return nil, fmt.Errorf("alp: cannot encode %T: %w", msg, ErrInvalidArgument)
	}
}

// DecodeCommand parses a frame sent by the host, mirroring Encode. The probe
// NoOp and NoTone on analog pin 0 share a wire form; it decodes as NoTone.
func (ALP) DecodeCommand(frame []byte) (ToDevice, error) {
	path, id, ok := split(frame)
	if !ok {
		return nil, fmt.Errorf("alp: %q: %w", frame, ErrUnrecognized)
	}
	parts := strings.Split(path, "/")
	ints := func(n int) ([]int, bool) {
		if len(parts) != n+1 {
			return nil, false
		}
		out := make([]int, n)
		for i := range out {
			v, err := parseNonNegative(parts[i+1])
			if err != nil {
				return nil, false
			}
			out[i] = v
		}
		return out, true
	}

	switch parts[0] {
	case keyPowerPinSwitch:
		if v, ok := ints(2); ok && v[1] <= 1 {
			return PinWrite{Pin: pin.DigitalPin(v[0]), Value: v[1], ID: id}, nil
		}
	case keyPowerPinIntensity:
		if v, ok := ints(2); ok {
			return PinWrite{Pin: pin.AnalogPin(v[0]), Value: v[1], ID: id}, nil
		}
	case keyStartListenDig, keyStartListenAna, keyStopListenDig, keyStopListenAna:
		v, ok := ints(1)
		if !ok {
			break
		}
		p := pin.AnalogPin(v[0])
		if parts[0] == keyStartListenDig || parts[0] == keyStopListenDig {
			p = pin.DigitalPin(v[0])
		}
		if parts[0] == keyStartListenDig || parts[0] == keyStartListenAna {
			return StartListening{Pin: p, ID: id}, nil
		}
		return StopListening{Pin: p, ID: id}, nil
	case keyCustom:
		if len(parts) < 2 || parts[1] == "" {
			break
		}
		c := Custom{Command: parts[1], ID: id}
		if len(parts) > 2 {
			c.Args = parts[2:]
		}
		return c, nil
	case keyNoTone:
		if v, ok := ints(1); ok {
			return NoTone{Pin: pin.AnalogPin(v[0]), ID: id}, nil
		}
	case keyTone:
		if len(parts) != 4 {
			break
		}
		idx, err1 := parseNonNegative(parts[1])
		hz, err2 := parseNonNegative(parts[2])
		ms, err3 := strconv.Atoi(parts[3])
		if err1 != nil || err2 != nil || err3 != nil || hz == 0 || ms < -1 {
			break
		}
		t := Tone{Pin: pin.AnalogPin(idx), Hertz: hz, ID: id}
		if ms > 0 {
			t.Duration = time.Duration(ms) * time.Millisecond
		}
		return t, nil
	}
	return nil, fmt.Errorf("alp: %q: %w", frame, ErrUnrecognized)
}

func unrecognized(frame []byte) (FromDevice, error) {
	raw := make([]byte, len(frame))
	copy(raw, frame)
	return Unrecognized{Raw: raw}, fmt.Errorf("alp: %q: %w", frame, ErrUnrecognized)
}

// split strips the prefix, a trailing carriage return and the "?id=N"
// suffix.
func split(frame []byte) (path string, id MessageID, ok bool) {
	frame = bytes.TrimSuffix(frame, []byte("\r"))
	s := string(frame)
	if !strings.HasPrefix(s, alpPrefix) {
		return "", MessageID{}, false
	}
	s = s[len(alpPrefix):]
	if i := strings.IndexByte(s, '?'); i >= 0 {
		query := s[i+1:]
		s = s[:i]
		v, found := strings.CutPrefix(query, "id=")
		if !found {
			return "", MessageID{}, false
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return "", MessageID{}, false
		}
		id = WithID(n)
	}
	if s == "" {
		return "", MessageID{}, false
	}
	return s, id, true
}

func join(key string, nums ...int) string {
	var sb strings.Builder
	sb.WriteString(key)
	for _, n := range nums {
		sb.WriteByte('/')
		sb.WriteString(strconv.Itoa(n))
	}
	return sb.String()
}

func finish(path string, id MessageID) []byte {
	s := alpPrefix + path
	if id.Valid {
		s += "?id=" + strconv.FormatUint(id.Value, 10)
	}
	return append([]byte(s), alpDelimiter...)
}

func checkPin(p pin.Pin) error {
	if p.Index < 0 {
		return fmt.Errorf("alp: pin must not be negative but was %d: %w", p.Index, ErrInvalidArgument)
	}
	if p.Kind != pin.Analog && p.Kind != pin.Digital {
		return fmt.Errorf("alp: unknown pin kind %v: %w", p.Kind, ErrInvalidArgument)
	}
	return nil
}

// Tones are addressed by index only and decoded as analog pins.
func checkTonePin(p pin.Pin) error {
	if err := checkPin(p); err != nil {
		return err
	}
	if !p.IsAnalog() {
		return fmt.Errorf("alp: tone needs an analog pin, got %s: %w", p, ErrInvalidArgument)
	}
	return nil
}

func checkSegment(s string) error {
	if s == "" {
		return fmt.Errorf("empty segment: %w", ErrInvalidArgument)
	}
	if strings.ContainsAny(s, "/?\r\n") {
		return fmt.Errorf("segment %q contains a reserved character: %w", s, ErrInvalidArgument)
	}
	return nil
}

func parseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative number %d", n)
	}
	return n, nil
}
