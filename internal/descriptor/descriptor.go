package descriptor

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const separator = ","

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Endpoint is one host:port member of a descriptor.
type Endpoint struct {
	Host string
	Port int
}

// String returns host:port, bracketing IPv6 hosts.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Parse splits s into endpoints, in order. Whitespace around members is
// ignored. Every member must be host:port where host is an IP address or an
// RFC 1123 host name and port is in 1..65535.
func Parse(s string) ([]Endpoint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("descriptor must not be empty")
	}
	parts := strings.Split(s, separator)
	out := make([]Endpoint, 0, len(parts))
	for i, part := range parts {
		ep, err := parseEndpoint(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("descriptor member %d %q: %w", i, part, err)
		}
		out = append(out, ep)
	}
	return out, nil
}

func parseEndpoint(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, errors.New("empty member")
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	if host == "" {
		return Endpoint{}, errors.New("missing host")
	}
	if net.ParseIP(host) == nil {
		if err := validatorInstance().Var(host, "hostname_rfc1123"); err != nil {
			return Endpoint{}, fmt.Errorf("invalid host %q", host)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port %q", portStr)
	}
	if err := validatorInstance().Var(port, "gte=1,lte=65535"); err != nil {
		return Endpoint{}, fmt.Errorf("port %d out of range", port)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Validate reports whether s is a well-formed descriptor.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// Addresses returns the members of s as host:port strings, in order.
func Addresses(s string) ([]string, error) {
	eps, err := Parse(s)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.String()
	}
	return out, nil
}

// Format builds the descriptor for instances listening on host at ports.
func Format(host string, ports []int) string {
	members := make([]string, len(ports))
	for i, p := range ports {
		members[i] = Endpoint{Host: host, Port: p}.String()
	}
	return strings.Join(members, separator)
}
