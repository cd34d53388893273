package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"
)

// Certificate states reported in CertStatus.Status.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// ExpiringWithin is the window in which a certificate counts as expiring.
const ExpiringWithin = 30 * 24 * time.Hour

const dialTimeout = 10 * time.Second

// CertStatus describes the leaf certificate served at an endpoint.
type CertStatus struct {
	Endpoint string    `json:"endpoint"`
	Status   string    `json:"status"`
	Issuer   string    `json:"issuer,omitempty"`
	NotAfter time.Time `json:"not_after,omitempty"`
	DaysLeft int       `json:"days_left"`
	Error    string    `json:"error,omitempty"`
}

// OK reports whether the certificate is usable and not close to expiry.
func (c *CertStatus) OK() bool {
	return c == nil || c.Status == StatusValid
}

// Check dials the TLS endpoint and returns a CertStatus describing the leaf
// certificate.
//
// Returns nil for non-HTTPS endpoints since there is no certificate to
// inspect. The dial is bounded by a 10-second timeout.
func Check(ctx context.Context, endpoint string, insecureSkipVerify bool) *CertStatus {
	return check(ctx, endpoint, insecureSkipVerify, time.Now())
}

func check(ctx context.Context, endpoint string, insecureSkipVerify bool, now time.Time) *CertStatus {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{Endpoint: endpoint}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = StatusUnreachable
		cs.Error = err.Error()
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		cs.Error = "no peer certificates"
		return cs
	}

	leaf := peerCerts[0]
	left := leaf.NotAfter.Sub(now)

	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))
	cs.Status = classify(left)
	return cs
}

func classify(left time.Duration) string {
	switch {
	case left <= 0:
		return StatusExpired
	case left <= ExpiringWithin:
		return StatusExpiring
	default:
		return StatusValid
	}
}
