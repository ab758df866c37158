package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnsafeEndpoint is returned for outbound URLs that could reach internal
// infrastructure.
var ErrUnsafeEndpoint = errors.New("security: unsafe endpoint")

// Resolver looks up host addresses; net.LookupHost has this shape.
type Resolver func(host string) ([]string, error)

// EndpointPolicy decides which outbound webhook targets are acceptable.
type EndpointPolicy struct {
	// AllowPrivate permits loopback and private targets (development, tests).
	AllowPrivate bool
	// Resolve defaults to net.LookupHost.
	Resolve Resolver
}

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// Check validates rawURL for server-side requests. Both the literal host and
// its resolved addresses are checked unless AllowPrivate is set.
func (p EndpointPolicy) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format", ErrUnsafeEndpoint)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: URL scheme must be http or https", ErrUnsafeEndpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: URL must have a host", ErrUnsafeEndpoint)
	}
	if p.AllowPrivate {
		return nil
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: host %q is not allowed", ErrUnsafeEndpoint, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	resolve := p.Resolve
	if resolve == nil {
		resolve = net.LookupHost
	}
	addrs, err := resolve(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve host %s", ErrUnsafeEndpoint, host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback addresses are not allowed", ErrUnsafeEndpoint)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private addresses are not allowed", ErrUnsafeEndpoint)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local addresses are not allowed", ErrUnsafeEndpoint)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified addresses are not allowed", ErrUnsafeEndpoint)
	}
	return nil
}
