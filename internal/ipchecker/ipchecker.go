// Package ipchecker restricts operational endpoints to clients inside a
// trusted subnet.
package ipchecker

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
)

// IPChecker decides whether a request comes from the trusted subnet.
type IPChecker struct {
	trustedSubnet     *net.IPNet
	trustProxyHeaders bool
}

type initOptions struct {
	trustProxyHeaders bool
}

type InitOption func(*initOptions)

// WithTrustProxyHeaders takes the client address from X-Real-IP and
// X-Forwarded-For. Enable it only when a reverse proxy sets those headers,
// otherwise any client can claim an address inside the trusted subnet.
func WithTrustProxyHeaders(value bool) InitOption {
	return func(options *initOptions) {
		options.trustProxyHeaders = value
	}
}

// New parses trustedSubnet (CIDR notation, e.g. "192.168.1.0/24"). An empty
// string yields a checker that trusts nobody.
func New(trustedSubnet string, optionsProto ...InitOption) (*IPChecker, error) {
	options := &initOptions{
		trustProxyHeaders: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	if trustedSubnet == "" {
		return &IPChecker{
			trustedSubnet:     nil,
			trustProxyHeaders: options.trustProxyHeaders,
		}, nil
	}
	_, allowedNet, err := net.ParseCIDR(trustedSubnet)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w", err)
	}
	return &IPChecker{
		trustedSubnet:     allowedNet,
		trustProxyHeaders: options.trustProxyHeaders,
	}, nil
}

// Check reports whether clientIP belongs to the trusted subnet.
func (checker *IPChecker) Check(clientIP net.IP) bool {
	return checker.trustedSubnet != nil && clientIP != nil && checker.trustedSubnet.Contains(clientIP)
}

// GetClientIP returns the peer address of request. Behind a trusted proxy
// X-Real-IP, then the first X-Forwarded-For entry, take precedence.
func (checker *IPChecker) GetClientIP(request *http.Request) (net.IP, error) {
	if checker.trustProxyHeaders {
		if ip := net.ParseIP(request.Header.Get("X-Real-IP")); ip != nil {
			return ip, nil
		}
		if xff := request.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return net.ParseIP(strings.TrimSpace(first)), nil
		}
	}
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/GetClientIP(): error while `net.SplitHostPort()` calling: %w", err)
	}
	return net.ParseIP(host), nil
}

// IsTrustedSubnetEmpty returns true if the IPChecker was initialized
// without a trusted subnet.
func (checker *IPChecker) IsTrustedSubnetEmpty() bool {
	return checker.trustedSubnet == nil
}

// TrustedOnly answers 403 to every client outside the trusted subnet.
func (checker *IPChecker) TrustedOnly(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		clientIP, err := checker.GetClientIP(request)
		if err != nil {
			logger.Log.Debugln("Error calling the `checker.GetClientIP()`: ", zap.Error(err))
		}
		if err != nil || !checker.Check(clientIP) {
			response.Header().Set("Content-Type", "application/json")
			response.WriteHeader(http.StatusForbidden)
			_, _ = response.Write([]byte(`{"error":"forbidden"}`))
			return
		}

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}
