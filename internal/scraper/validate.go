// Package scraper holds the engine-independent parts of a scrape: request
// validation, artifact persistence, and headless promotion.
package scraper

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxPagesLimit caps max_pages when no limit is configured.
const DefaultMaxPagesLimit = 100

const lookupTimeout = 2 * time.Second

// LookupIPFunc resolves host to its addresses, like (*net.Resolver).LookupIP.
type LookupIPFunc func(ctx context.Context, network, host string) ([]net.IP, error)

// ValidationError reports a start request rejected before any record exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidatorConfig lists the limits enforced on start requests.
type ValidatorConfig struct {
	MaxPagesLimit     int
	BlockedHosts      []string
	AllowPrivateHosts bool
	// LookupIP defaults to net.DefaultResolver.LookupIP.
	LookupIP LookupIPFunc
}

// Validator checks target URLs, page limits and project names.
type Validator struct {
	maxPages     int
	blocked      *hostBlocklist
	allowPrivate bool
	lookupIP     LookupIPFunc
}

// NewValidator builds a Validator from cfg.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.MaxPagesLimit <= 0 {
		cfg.MaxPagesLimit = DefaultMaxPagesLimit
	}
	if cfg.LookupIP == nil {
		cfg.LookupIP = net.DefaultResolver.LookupIP
	}
	return &Validator{
		maxPages:     cfg.MaxPagesLimit,
		blocked:      newHostBlocklist(cfg.BlockedHosts),
		allowPrivate: cfg.AllowPrivateHosts,
		lookupIP:     cfg.LookupIP,
	}
}

// Validate returns a *ValidationError describing the first problem found.
func (v *Validator) Validate(rawURL, projectName string, maxPages int) error {
	if strings.TrimSpace(projectName) == "" {
		return invalid("project_name", "must not be empty")
	}
	if maxPages < 1 || maxPages > v.maxPages {
		return invalid("max_pages", "must be between 1 and %d", v.maxPages)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return invalid("url", "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("url", "scheme must be http or https")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return invalid("url", "host is required")
	}
	if v.blocked.IsBlocked(host) {
		return invalid("url", "host %q is not allowed", host)
	}
	if v.allowPrivate {
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return invalid("url", "host %q is a local address", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return invalid("url", "host %q is a private address", host)
		}
		return nil
	}
	return v.checkResolved(host)
}

// checkResolved rejects hostnames with any private address. Lookup failures
// are left to the fetch, which fails the job.
func (v *Validator) checkResolved(host string) error {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	ips, err := v.lookupIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return invalid("url", "host %q resolves to a private address", host)
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// hostBlocklist stores exact hosts and suffix wildcards from configuration.
type hostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostBlocklist(patterns []string) *hostBlocklist {
	b := &hostBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *hostBlocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host matches an exact entry or a suffix.
func (b *hostBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
