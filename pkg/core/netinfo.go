package core

import (
	"errors"
	"math"
	"net"
	"strings"

	"github.com/shirou/gopsutil/disk"
	psnet "github.com/shirou/gopsutil/net"
)

// ErrNoAddress is returned when no usable IPv4 address is configured.
var ErrNoAddress = errors.New("no non-loopback ipv4 address")

// LocalIPv4 returns the first non-loopback IPv4 address of an interface that
// is up. It is what the operator hands out to peers.
func LocalIPv4() (string, error) {
	ifs, err := psnet.Interfaces()
	if err != nil {
		return "", err
	}
	for _, i := range ifs {
		if !hasFlag(i.Flags, "up") || hasFlag(i.Flags, "loopback") {
			continue
		}
		for _, a := range i.Addrs {
			ip := parseAddr(a.Addr)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String(), nil
			}
		}
	}
	return "", ErrNoAddress
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

func parseAddr(s string) net.IP {
	if ip, _, err := net.ParseCIDR(s); err == nil {
		return ip
	}
	return net.ParseIP(s)
}

// DiskUsage reports usage of the filesystem holding path, percentages rounded
// to two decimals.
func DiskUsage(path string) (*disk.UsageStat, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return nil, err
	}
	u.UsedPercent = math.Round(u.UsedPercent*100) / 100
	u.InodesUsedPercent = math.Round(u.InodesUsedPercent*100) / 100
	return u, nil
}
