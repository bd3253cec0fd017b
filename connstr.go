package zk

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used for servers given without a port.
const DefaultPort = 2181

// ConnectionString is a parsed "host1:port1,host2:port2/chroot" string.
type ConnectionString struct {
	Servers []string
	Chroot  string
}

// ParseConnectionString splits a connection string into its servers and the
// optional chroot suffix. Empty server entries are ignored.
func ParseConnectionString(connString string) (ConnectionString, error) {
	hosts := connString
	chroot := ""
	if index := strings.IndexByte(connString, '/'); index >= 0 {
		hosts = connString[:index]
		chroot = connString[index:]
		if chroot == "/" {
			chroot = ""
		}
	}

	if chroot != "" {
		if err := ValidatePath(chroot, false); err != nil {
			return ConnectionString{}, fmt.Errorf("zk: invalid chroot %q: %w", chroot, err)
		}
	}

	var servers []string
	for _, s := range strings.Split(hosts, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		return ConnectionString{}, ErrNoServer
	}

	formatted := FormatServers(servers)
	for _, addr := range formatted {
		if _, port, err := net.SplitHostPort(addr); err != nil {
			return ConnectionString{}, fmt.Errorf("zk: invalid server address %q: %w", addr, err)
		} else if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return ConnectionString{}, fmt.Errorf("zk: invalid server port %q", addr)
		}
	}

	return ConnectionString{
		Servers: formatted,
		Chroot:  chroot,
	}, nil
}

// FormatServers takes a slice of addresses, and makes sure they are in a format
// that resembles <addr>:<port>. If the server has no port provided, the
// DefaultPort constant is added to the end.
func FormatServers(servers []string) []string {
	srvs := make([]string, len(servers))
	for i, addr := range servers {
		if strings.Contains(addr, ":") {
			srvs[i] = addr
		} else {
			srvs[i] = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
		}
	}
	return srvs
}
