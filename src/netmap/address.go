package netmap

import (
	"fmt"
	"net"
	"strconv"
)

// Address is a network endpoint a node listens on.
type Address struct {
	Host string
	Port int
}

// NewAddress creates an Address.
func NewAddress(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// ParseAddress parses a "host:port" string into an Address.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port in address %q: %v", s, err)
	}
	return Address{Host: host, Port: port}, nil
}

// String returns the "host:port" form of the address.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
