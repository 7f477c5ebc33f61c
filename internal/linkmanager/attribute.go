package linkmanager

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind is the type of an attribute value.
type Kind int

const (
	String Kind = iota
	Int
	Bool
	Duration
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Duration:
		return "duration"
	default:
		return "string"
	}
}

// Attribute describes one configurable setting of a Factory.
type Attribute struct {
	Name        string
	Kind        Kind
	Description string
	// Default is used when the attribute is absent. Attributes with
	// choices and no default fall back to the first choice.
	Default string
	// Choices lists the legal values. It is evaluated on every Configure
	// so it may reflect the current machine, e.g. attached serial ports.
	Choices func() []string
	// AllowOther accepts values outside Choices. Choices then only
	// supply the default and a hint for UIs.
	AllowOther bool
}

// free reports whether an empty value is meaningful for a.
func (a Attribute) free() bool {
	return a.Kind == String && a.Choices == nil
}

func (a Attribute) choices() []string {
	if a.Choices == nil {
		return nil
	}
	return a.Choices()
}

func (a Attribute) defaultValue() string {
	if a.Default != "" {
		return a.Default
	}
	if c := a.choices(); len(c) > 0 {
		return c[0]
	}
	return ""
}

// normalize validates raw and returns its canonical text form.
func (a Attribute) normalize(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" && !a.free() {
		value = a.defaultValue()
	}
	if value == "" {
		return "", nil
	}

	switch a.Kind {
	case Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %q is not an integer", ErrAddress, a.Name, raw)
		}
		value = strconv.Itoa(n)
	case Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %q is not a boolean", ErrAddress, a.Name, raw)
		}
		value = strconv.FormatBool(b)
	case Duration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %q is not a duration", ErrAddress, a.Name, raw)
		}
		value = d.String()
	}

	if !a.AllowOther {
		if c := a.choices(); len(c) > 0 && !slices.Contains(c, value) {
			return "", fmt.Errorf("%w: %s: %q is not one of %s", ErrAddress, a.Name, value, strings.Join(c, ", "))
		}
	}
	return value, nil
}
