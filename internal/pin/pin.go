package pin

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes analog from digital pins.
type Kind int

const (
	Analog Kind = iota
	Digital
)

func (k Kind) String() string {
	switch k {
	case Analog:
		return "analog"
	case Digital:
		return "digital"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Pin identifies one pin of the device. Two pins are equal when both kind
// and index match, so Pin can be used as a map key.
type Pin struct {
	Kind  Kind
	Index int
}

// AnalogPin returns the analog pin with the given index.
func AnalogPin(index int) Pin { return Pin{Kind: Analog, Index: index} }

// DigitalPin returns the digital pin with the given index.
func DigitalPin(index int) Pin { return Pin{Kind: Digital, Index: index} }

func (p Pin) IsAnalog() bool  { return p.Kind == Analog }
func (p Pin) IsDigital() bool { return p.Kind == Digital }

// String renders the pin as "A3" or "D7".
func (p Pin) String() string {
	if p.Kind == Analog {
		return "A" + strconv.Itoa(p.Index)
	}
	return "D" + strconv.Itoa(p.Index)
}

// Parse is the inverse of String. The prefix is case-insensitive.
func Parse(s string) (Pin, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Pin{}, fmt.Errorf("pin: invalid pin %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return Pin{}, fmt.Errorf("pin: invalid pin index in %q", s)
	}
	switch s[0] {
	case 'A', 'a':
		return AnalogPin(n), nil
	case 'D', 'd':
		return DigitalPin(n), nil
	}
	return Pin{}, fmt.Errorf("pin: unknown pin kind in %q", s)
}
