// Package netif enumerates local network interfaces and picks the IPv4
// address the discovery service advertises.
package netif

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoIPv4 is returned when no usable IPv4 address is configured.
var ErrNoIPv4 = errors.New("no non-loopback IPv4 address found")

// Interface is a snapshot of one network interface.
type Interface struct {
	Name      string
	Index     int
	MAC       string
	Up        bool
	Loopback  bool
	Multicast bool
	Virtual   bool
	Addrs     []net.IP
}

// IPv4 returns the interface's IPv4 addresses.
func (i Interface) IPv4() []net.IP {
	var out []net.IP
	for _, ip := range i.Addrs {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, v4)
		}
	}
	return out
}

// List returns every interface on the host.
func List() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate network interfaces: %w", err)
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := Interface{
			Name:      iface.Name,
			Index:     iface.Index,
			MAC:       iface.HardwareAddr.String(),
			Up:        iface.Flags&net.FlagUp != 0,
			Loopback:  iface.Flags&net.FlagLoopback != 0,
			Multicast: iface.Flags&net.FlagMulticast != 0,
			Virtual:   isVirtualBridge(iface.Name),
		}

		addrs, err := iface.Addrs()
		if err != nil {
			// An interface that vanished mid-enumeration is listed without addresses
			out = append(out, entry)
			continue
		}
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				entry.Addrs = append(entry.Addrs, v.IP)
			case *net.IPAddr:
				entry.Addrs = append(entry.Addrs, v.IP)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// PrimaryIPv4 returns the first non-loopback IPv4 address of an interface
// that is up. Container and VM bridges are only used when nothing else has
// an address.
func PrimaryIPv4() (net.IP, error) {
	ifaces, err := List()
	if err != nil {
		return nil, err
	}
	if ip := pickIPv4(ifaces); ip != nil {
		return ip, nil
	}
	return nil, ErrNoIPv4
}

// InterfaceIPv4 returns the first IPv4 address of the named interface.
func InterfaceIPv4(name string) (net.IP, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("interface %s addresses: %w", name, err)
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if v4 := ipnet.IP.To4(); v4 != nil && !v4.IsLoopback() {
				return v4, nil
			}
		}
	}
	return nil, fmt.Errorf("interface %s: %w", name, ErrNoIPv4)
}

func pickIPv4(ifaces []Interface) net.IP {
	var fallback net.IP
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}
		for _, ip := range iface.IPv4() {
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
				continue
			}
			if !iface.Virtual {
				return ip
			}
			if fallback == nil {
				fallback = ip
			}
		}
	}
	return fallback
}

// isVirtualBridge reports container and hypervisor bridge interfaces whose
// addresses are only reachable from the local host.
func isVirtualBridge(name string) bool {
	if name == "docker0" || name == "docker_gwbridge" {
		return true
	}
	for _, prefix := range []string{"br-", "veth", "cni", "flannel", "calico", "weave", "virbr", "lxcbr", "lxdbr"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
