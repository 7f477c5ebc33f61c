package linkmanager

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config is a validated, normalized set of attribute values for one
// factory. Every attribute of the factory has an entry. Config is
// immutable.
type Config struct {
	factory string
	values  map[string]string
}

// Factory returns the canonical name of the factory the config is for.
func (c Config) Factory() string { return c.factory }

// String returns the value of attribute name, or "" if unset.
func (c Config) String(name string) string { return c.values[name] }

// Int returns an Int attribute. Values were validated by Configure.
func (c Config) Int(name string) int {
	n, _ := strconv.Atoi(c.values[name])
	return n
}

func (c Config) Bool(name string) bool {
	b, _ := strconv.ParseBool(c.values[name])
	return b
}

func (c Config) Duration(name string) time.Duration {
	d, _ := time.ParseDuration(c.values[name])
	return d
}

// Values returns a copy of all attribute values.
func (c Config) Values() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Key is the canonical identity of the config: the factory name followed by
// every attribute sorted by name, defaults included. Two addresses that
// configure the same link produce the same key.
func (c Config) Key() string {
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(c.factory)
	for i, k := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(c.values[k]))
	}
	return b.String()
}

// URI renders the config back as an address that resolves to it.
func (c Config) URI() string {
	return Scheme + "://" + c.Key()
}
