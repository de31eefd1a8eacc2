package capture

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket/pcap"
)

// InterfaceInfo represents a network interface with its properties.
type InterfaceInfo struct {
	Name        string
	Description string
	Addresses   []string
	IsUp        bool
	IsLoopback  bool
}

// DisplayName prefers the description for Windows GUID-style names.
func (i InterfaceInfo) DisplayName() string {
	if i.Description != "" && (strings.Contains(i.Name, "{") || strings.HasPrefix(i.Name, `\Device\`)) {
		return i.Description
	}
	return i.Name
}

// ListInterfaces returns the interfaces libpcap can capture on.
func ListInterfaces() ([]InterfaceInfo, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("find network devices: %w", err)
	}

	interfaces := make([]InterfaceInfo, 0, len(devices))
	for _, device := range devices {
		info := InterfaceInfo{Name: device.Name, Description: device.Description}
		for _, addr := range device.Addresses {
			if addr.IP == nil {
				continue
			}
			info.Addresses = append(info.Addresses, addr.IP.String())
			if addr.IP.IsLoopback() {
				info.IsLoopback = true
			}
		}
		if iface, err := net.InterfaceByName(device.Name); err == nil {
			info.IsUp = iface.Flags&net.FlagUp != 0
			if iface.Flags&net.FlagLoopback != 0 {
				info.IsLoopback = true
			}
		}
		interfaces = append(interfaces, info)
	}
	return interfaces, nil
}

// InterfaceForTarget returns the capture interface whose address the kernel
// would use to reach targetIP.
func InterfaceForTarget(targetIP string) (string, error) {
	ip := net.ParseIP(targetIP)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", targetIP)
	}
	interfaces, err := ListInterfaces()
	if err != nil {
		return "", err
	}
	if ip.IsLoopback() {
		return pickLoopback(interfaces)
	}

	// Connecting a UDP socket sends nothing but selects the source address.
	conn, err := net.Dial("udp", net.JoinHostPort(targetIP, "9"))
	if err != nil {
		return "", fmt.Errorf("route to %s: %w", targetIP, err)
	}
	local := conn.LocalAddr().(*net.UDPAddr).IP.String()
	conn.Close()
	return interfaceWithAddress(interfaces, local)
}

func pickLoopback(interfaces []InterfaceInfo) (string, error) {
	for _, iface := range interfaces {
		if iface.IsLoopback {
			return iface.Name, nil
		}
	}
	for _, name := range []string{"lo", "lo0", "Loopback Pseudo-Interface 1"} {
		for _, iface := range interfaces {
			if iface.Name == name {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("no loopback interface found")
}

func interfaceWithAddress(interfaces []InterfaceInfo, addr string) (string, error) {
	for _, iface := range interfaces {
		for _, a := range iface.Addresses {
			if a == addr {
				return iface.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no capture interface has address %s", addr)
}
