package linkmanager

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme of link addresses.
const Scheme = "ardulink"

// DefaultName addresses whatever factory the registry designates as
// default.
const DefaultName = "default"

// ErrAddress is wrapped by every address, lookup and validation error.
var ErrAddress = errors.New("invalid link address")

// Address is a parsed link URI: ardulink://<name>[?key=value&...].
type Address struct {
	Name   string
	Params map[string]string
}

// ParseAddress parses s. Names are case-insensitive and returned lower
// case. Repeated parameters are rejected.
func ParseAddress(s string) (Address, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrAddress, err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return Address{}, fmt.Errorf("%w: %q: scheme must be %s", ErrAddress, s, Scheme)
	}
	if u.User != nil || u.Port() != "" || (u.Path != "" && u.Path != "/") || u.Fragment != "" {
		return Address{}, fmt.Errorf("%w: %q: expected %s://<name>[?key=value...]", ErrAddress, s, Scheme)
	}
	name := strings.ToLower(u.Hostname())
	if name == "" {
		return Address{}, fmt.Errorf("%w: %q: missing link name", ErrAddress, s)
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrAddress, s, err)
	}
	params := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 1 {
			return Address{}, fmt.Errorf("%w: %q: parameter %s given %d times", ErrAddress, s, k, len(vs))
		}
		params[k] = vs[0]
	}
	return Address{Name: name, Params: params}, nil
}

// String renders a as a URI with parameters sorted by key.
func (a Address) String() string {
	q := url.Values{}
	for k, v := range a.Params {
		q.Set(k, v)
	}
	s := Scheme + "://" + a.Name
	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	return s
}
