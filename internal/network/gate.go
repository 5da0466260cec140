// Package network answers whether a sync pass may touch the network.
//
// Every sync procedure consults the gate before doing any work and
// exits immediately, with no job or datapoint mutation, when the device
// is offline or on the wrong network type. The answers are evaluated
// fresh on every invocation, never cached.
package network

import (
	"net"
	"net/url"
	"time"
)

// Detector reports the current network type ("wifi", "cellular", ...).
// The platform supplies a real implementation; servers and tests use
// StaticDetector.
type Detector interface {
	CurrentType() string
}

// StaticDetector always reports a fixed network type.
type StaticDetector string

// CurrentType implements Detector.
func (d StaticDetector) CurrentType() string { return string(d) }

// Gate is the pre-sync connectivity check.
type Gate interface {
	// Online reports whether the device currently has connectivity.
	Online() bool

	// OnRequiredNetwork reports whether the current network type
	// matches required. An empty requirement always passes.
	OnRequiredNetwork(required string) bool
}

// ProbeGate checks connectivity by dialing the remote service host.
type ProbeGate struct {
	host     string // host:port of the remote service
	timeout  time.Duration
	detector Detector
}

// NewProbeGate builds a gate probing the host of serverURL. A nil
// detector defaults to reporting "wifi".
func NewProbeGate(serverURL string, detector Detector) (*ProbeGate, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	if detector == nil {
		detector = StaticDetector("wifi")
	}
	return &ProbeGate{
		host:     host,
		timeout:  3 * time.Second,
		detector: detector,
	}, nil
}

// Online implements Gate by opening and closing one TCP connection.
func (g *ProbeGate) Online() bool {
	conn, err := net.DialTimeout("tcp", g.host, g.timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// OnRequiredNetwork implements Gate.
func (g *ProbeGate) OnRequiredNetwork(required string) bool {
	if required == "" {
		return true
	}
	return g.detector.CurrentType() == required
}

// StaticGate is a fixed-answer gate used by tests.
type StaticGate struct {
	IsOnline    bool
	NetworkType string
}

// Online implements Gate.
func (g *StaticGate) Online() bool { return g.IsOnline }

// OnRequiredNetwork implements Gate.
func (g *StaticGate) OnRequiredNetwork(required string) bool {
	if required == "" {
		return true
	}
	return g.NetworkType == required
}
