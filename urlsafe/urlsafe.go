// Package urlsafe validates target URLs before any fetch tier touches
// them: scheme allow-list and SSRF guard against private or loopback
// addresses, including hosts that resolve to internal IPs.
package urlsafe

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrSSRF is returned when a URL targets a private or loopback address.
var ErrSSRF = errors.New("urlsafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("urlsafe: only http and https schemes are allowed")

// Validate checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP. DNS resolution is performed to
// catch rebinding via internal hostnames.
func Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("urlsafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("urlsafe: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// DNS failure — allow through; the fetch will fail at connection
		// time with a proper network error.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
