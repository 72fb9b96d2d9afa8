package transport

import (
	"crypto/tls"
	"errors"
	"net"
)

// IsConnectionError reports whether err is a connection-level failure
// (refused, reset, DNS, TLS handshake) as opposed to a generic request
// failure such as a timeout. The distinction routes to different
// health flags: connection failures clear TRANSPORT, everything else
// clears INTERNET.
func IsConnectionError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// Dial failures are connection-level; read/write failures on an
		// established connection (including timeouts) are not.
		return opErr.Op == "dial"
	}
	return false
}
