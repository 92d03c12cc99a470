package scraper

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDNS resolves names from a fixed table; unknown names fail to resolve.
func fakeDNS(table map[string]string) LookupIPFunc {
	return func(_ context.Context, _, host string) ([]net.IP, error) {
		addr, ok := table[host]
		if !ok {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		}
		return []net.IP{net.ParseIP(addr)}, nil
	}
}

var testDNS = fakeDNS(map[string]string{
	"example.com":        "93.184.215.14",
	"sub.example.com":    "93.184.215.14",
	"intranet.corp.test": "10.0.0.7",
	"metadata.test":      "169.254.169.254",
})

func TestValidatorRejects(t *testing.T) {
	t.Parallel()

	v := NewValidator(ValidatorConfig{
		MaxPagesLimit: 50,
		BlockedHosts:  []string{"example.org", "*.ru", " "},
		LookupIP:      testDNS,
	})

	cases := []struct {
		name, url, project string
		maxPages           int
		field              string
	}{
		{"empty project", "https://example.com", "  ", 1, "project_name"},
		{"zero pages", "https://example.com", "p", 0, "max_pages"},
		{"too many pages", "https://example.com", "p", 51, "max_pages"},
		{"ftp scheme", "ftp://example.com", "p", 1, "url"},
		{"javascript scheme", "javascript:alert(1)", "p", 1, "url"},
		{"no host", "https://", "p", 1, "url"},
		{"exact block", "https://Example.org/path", "p", 1, "url"},
		{"suffix block", "https://shop.example.ru", "p", 1, "url"},
		{"localhost", "http://localhost:8080", "p", 1, "url"},
		{"loopback ip", "http://127.0.0.1", "p", 1, "url"},
		{"private ip", "http://10.1.2.3", "p", 1, "url"},
		{"link local", "http://169.254.169.254/latest", "p", 1, "url"},
		{"ipv6 loopback", "http://[::1]/", "p", 1, "url"},
		{"name resolving to private ip", "https://intranet.corp.test/", "p", 1, "url"},
		{"name resolving to link local", "http://metadata.test/", "p", 1, "url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := v.Validate(tc.url, tc.project, tc.maxPages)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidatorAccepts(t *testing.T) {
	t.Parallel()

	v := NewValidator(ValidatorConfig{BlockedHosts: []string{"*.ru"}, LookupIP: testDNS})
	require.NoError(t, v.Validate("https://example.com/page", "Example", 100))
	require.NoError(t, v.Validate("http://sub.example.com", "Example", 1))
	require.NoError(t, v.Validate("https://unresolvable.test", "Example", 1), "lookup failures are left to the fetch")

	open := NewValidator(ValidatorConfig{AllowPrivateHosts: true, LookupIP: testDNS})
	require.NoError(t, open.Validate("http://127.0.0.1:9000", "local", 5))
	require.NoError(t, open.Validate("https://intranet.corp.test", "local", 5))
}

func TestHostBlocklist(t *testing.T) {
	t.Parallel()

	require.Nil(t, newHostBlocklist(nil))
	var nilList *hostBlocklist
	require.False(t, nilList.IsBlocked("anything"))

	bl := newHostBlocklist([]string{"example.org", ".internal", "*.ru", "*.ru"})
	require.Len(t, bl.suffixes, 2)
	require.True(t, bl.IsBlocked("example.org"))
	require.False(t, bl.IsBlocked("sub.example.org"))
	require.True(t, bl.IsBlocked("ru"))
	require.True(t, bl.IsBlocked("a.b.ru"))
	require.True(t, bl.IsBlocked("db.internal"))
	require.False(t, bl.IsBlocked("example.com"))
}
