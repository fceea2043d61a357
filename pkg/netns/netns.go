// Package netns gives a container process a private IPv4 address on a
// host bridge: auto-detecting which bridge an unprivileged user may use
// from /etc/lxc/lxc-usernet, delegating veth-pair creation to the
// lxc-user-nic setuid helper (no Go library replaces the privilege
// lxc-user-nic itself carries), and configuring the resulting interface
// with github.com/vishvananda/netlink once it appears inside the
// target's already-unshared network namespace.
package netns

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
)

const defaultLXCUsernetPath = "/etc/lxc/lxc-usernet"

// DetectBridge parses path (normally /etc/lxc/lxc-usernet) for the
// first "user type bridge count" record belonging to the current login.
func DetectBridge(path string) (bridge, devType string, err error) {
	if path == "" {
		path = defaultLXCUsernetPath
	}
	u, err := user.Current()
	if err != nil {
		return "", "", fmt.Errorf("netns: resolve current user: %w", err)
	}
	return detectBridgeFromFile(path, u.Username)
}

func detectBridgeFromFile(path, username string) (bridge, devType string, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("netns: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 || fields[0] != username {
			continue
		}
		return fields[2], fields[1], nil
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("netns: read %s: %w", path, err)
	}
	return "", "", nil
}

// Gateway enumerates bridge's IPv4 addresses on the host and returns the
// first one as the default route target.
func Gateway(bridge string) (ip net.IP, prefixLen int, err error) {
	link, err := netlink.LinkByName(bridge)
	if err != nil {
		return nil, 0, fmt.Errorf("netns: look up bridge %s: %w", bridge, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, 0, fmt.Errorf("netns: list addresses on %s: %w", bridge, err)
	}
	if len(addrs) == 0 {
		return nil, 0, nil
	}
	ones, _ := addrs[0].IPNet.Mask.Size()
	return addrs[0].IP, ones, nil
}

// lxcUserNic is the setuid helper's name on PATH; overridable in tests.
var lxcUserNic = "lxc-user-nic"

// CreateVeth asks the lxc-user-nic setuid helper to plumb one end of a
// veth pair into pid's network namespace, naming the inside interface
// eth0.
func CreateVeth(pid int, devType, bridge string) error {
	cmd := exec.Command(lxcUserNic, strconv.Itoa(pid), devType, bridge)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("netns: lxc-user-nic: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ConfigureInterface brings up lo and eth0 inside the calling process's
// own network namespace, assigns address/prefixLen to eth0, and installs
// gateway as the default route when non-empty. It must run before the
// container's capability bounding set is dropped, since CAP_NET_ADMIN
// (available to namespaced root, absent from capdrop.Default) is
// required to configure links and routes.
func ConfigureInterface(address string, prefixLen int, gateway string) error {
	if err := bringUp("lo"); err != nil {
		return err
	}
	eth0, err := bringUpReturningLink("eth0")
	if err != nil {
		return err
	}
	if address == "" {
		return nil
	}
	ip := net.ParseIP(address)
	if ip == nil {
		return fmt.Errorf("netns: invalid address %q", address)
	}
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: net.CIDRMask(prefixLen, 32)}}
	if err := netlink.AddrAdd(eth0, addr); err != nil {
		return fmt.Errorf("netns: assign address to eth0: %w", err)
	}
	if gateway == "" {
		return nil
	}
	gw := net.ParseIP(gateway)
	if gw == nil {
		return fmt.Errorf("netns: invalid gateway %q", gateway)
	}
	route := &netlink.Route{Gw: gw}
	if err := netlink.RouteAdd(route); err != nil {
		return fmt.Errorf("netns: add default route via %s: %w", gateway, err)
	}
	return nil
}

func bringUp(name string) error {
	_, err := bringUpReturningLink(name)
	return err
}

func bringUpReturningLink(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("netns: look up %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("netns: bring up %s: %w", name, err)
	}
	return link, nil
}
