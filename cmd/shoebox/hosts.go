package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/shoebox/pkg/types"
)

const hostsLoopbackPrelude = "127.0.0.1\tlocalhost\n" +
	"::1\tlocalhost ip6-localhost ip6-loopback\n" +
	"fe00::0\tip6-localnet\n" +
	"ff00::0\tip6-mcastprefix\n" +
	"ff02::1\tip6-allnodes\n" +
	"ff02::2\tip6-allrouters\n"

// generateHosts builds a container's /etc/hosts: a fixed loopback
// prelude, a line mapping the container's own private address to its
// hostname when it has one, and one line per linked container listing
// that container's address, its alias(es), and its own id (skipped
// where already used as an alias).
func generateHosts(ip, hostname string, links []types.ContainerLink) []byte {
	var b strings.Builder
	b.WriteString(hostsLoopbackPrelude)

	if ip != "" && hostname != "" {
		fmt.Fprintf(&b, "%s\t%s\n", ip, hostname)
	}

	type linkGroup struct {
		aliases []string
		ids     []string
	}
	byIP := map[string]*linkGroup{}
	var order []string
	for _, l := range links {
		g, ok := byIP[l.TargetIP]
		if !ok {
			g = &linkGroup{}
			byIP[l.TargetIP] = g
			order = append(order, l.TargetIP)
		}
		g.aliases = append(g.aliases, l.Alias)
		id := ""
		if l.SourceContainer != nil {
			id = l.SourceContainer.ID
		}
		if id != "" && !containsString(g.aliases, id) && !containsString(g.ids, id) {
			g.ids = append(g.ids, id)
		}
	}
	for _, ip := range order {
		g := byIP[ip]
		names := append(append([]string(nil), g.aliases...), g.ids...)
		fmt.Fprintf(&b, "%s\t%s\n", ip, strings.Join(names, " "))
	}
	return []byte(b.String())
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// generateResolvConf copies the host's own /etc/resolv.conf, rewriting
// any "nameserver 127.*" line to point at the private-network gateway
// instead, since a loopback-scoped resolver (e.g. systemd-resolved's
// stub listener) is unreachable from inside the container's own network
// namespace.
func generateResolvConf(gateway string) ([]byte, error) {
	f, err := os.Open("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("read host resolv.conf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if gateway != "" && len(fields) == 2 && fields[0] == "nameserver" && strings.HasPrefix(fields[1], "127.") {
			fmt.Fprintf(&b, "nameserver %s\n", gateway)
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read host resolv.conf: %w", err)
	}
	return []byte(b.String()), nil
}
