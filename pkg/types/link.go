package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errNoExposedPorts = errors.New("source container does not expose any ports")
	errNoIPAddress    = errors.New("source container has no IP address")
)

func upper(s string) string { return strings.ToUpper(s) }

func itoa(i int) string { return strconv.Itoa(i) }

func addrURL(p PortMapping, ip string) string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, ip, p.Port)
}

func portKey(label string, p PortMapping) string {
	return fmt.Sprintf("%s_PORT_%d_%s", label, p.Port, upper(p.Protocol))
}
