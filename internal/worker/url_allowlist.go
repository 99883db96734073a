package worker

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrURLNotAllowed = errors.New("url not in file fetch allowlist")

type allowedOrigin struct {
	scheme string
	host   string // lower case, "*.example.com" matches subdomains
	port   string // empty matches any port
}

// URLAllowlist admits file URLs whose scheme and host match one of its
// entries. The zero value admits nothing.
type URLAllowlist struct {
	origins []allowedOrigin
}

// ParseURLAllowlist reads entries of the form "host", "host:port",
// "*.domain" or "scheme://host[:port]". Entries without a scheme allow https
// only.
func ParseURLAllowlist(entries []string) (URLAllowlist, error) {
	var a URLAllowlist
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		raw := e
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return URLAllowlist{}, fmt.Errorf("file fetch allowlist entry %q: %w", e, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return URLAllowlist{}, fmt.Errorf("file fetch allowlist entry %q: scheme must be http or https", e)
		}
		if u.Hostname() == "" || u.User != nil || strings.Trim(u.Path, "/") != "" {
			return URLAllowlist{}, fmt.Errorf("file fetch allowlist entry %q: want scheme and host only", e)
		}
		a.origins = append(a.origins, allowedOrigin{
			scheme: u.Scheme,
			host:   strings.ToLower(u.Hostname()),
			port:   u.Port(),
		})
	}
	return a, nil
}

func (a URLAllowlist) Empty() bool { return len(a.origins) == 0 }

// Check returns ErrURLNotAllowed unless raw is an absolute http(s) URL
// without credentials whose origin is listed.
func (a URLAllowlist) Check(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrURLNotAllowed, err)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrURLNotAllowed)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: %s", ErrURLNotAllowed, u.Redacted())
	}
	for _, o := range a.origins {
		if o.scheme == u.Scheme && o.matchHost(host) && (o.port == "" || o.port == u.Port()) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s://%s", ErrURLNotAllowed, u.Scheme, u.Host)
}

func (o allowedOrigin) matchHost(host string) bool {
	if suffix, ok := strings.CutPrefix(o.host, "*"); ok {
		return strings.HasSuffix(host, suffix)
	}
	return host == o.host
}
