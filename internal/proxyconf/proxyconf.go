// Package proxyconf turns a tenant's stored proxy fields into a
// connection-routing descriptor and the http transport that honors it.
package proxyconf

import (
	"fmt"
	"net/http"
	"net/url"

	"h12.io/socks"

	"avitolink/pkg/apperr"
)

// Scheme is the proxy protocol. Exactly four values are accepted;
// anything else is a configuration error, never silently ignored.
type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSocks4 Scheme = "socks4"
	SchemeSocks5 Scheme = "socks5"
)

// ParseScheme validates a stored scheme string.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case SchemeHTTP, SchemeHTTPS, SchemeSocks4, SchemeSocks5:
		return Scheme(s), nil
	}
	return "", apperr.Newf(apperr.Configuration, "unknown proxy scheme %q", s)
}

// Auth is optional proxy credentials. Both fields are set or Auth is
// absent; partial pairs never get this far.
type Auth struct {
	Username string
	Password string
}

// Descriptor routes outbound marketplace traffic through one proxy.
// Never shared across tenants. A nil Descriptor means route directly.
type Descriptor struct {
	Scheme Scheme
	Host   string
	Port   int
	Auth   *Auth
}

// Resolve builds a Descriptor from stored (already decrypted) proxy
// fields. An empty host means no proxy is configured. Pure function,
// no network I/O.
func Resolve(scheme, host string, port int, login, password string) (*Descriptor, error) {
	if host == "" {
		if password != "" || login != "" {
			return nil, apperr.New(apperr.Configuration, "proxy auth set without proxy host")
		}
		return nil, nil
	}
	sch, err := ParseScheme(scheme)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, apperr.Newf(apperr.Configuration, "invalid proxy port %d", port)
	}
	d := &Descriptor{Scheme: sch, Host: host, Port: port}
	if login != "" || password != "" {
		// Credentials come as a pair; a lone username or password is a
		// half-filled form, not a usable config.
		if login == "" || password == "" {
			return nil, apperr.New(apperr.Configuration, "proxy auth requires both username and password")
		}
		d.Auth = &Auth{Username: login, Password: password}
	}
	return d, nil
}

// URL renders the descriptor as scheme://[user:pass@]host:port.
func (d *Descriptor) URL() *url.URL {
	u := &url.URL{
		Scheme: string(d.Scheme),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
	}
	if d.Auth != nil {
		u.User = url.UserPassword(d.Auth.Username, d.Auth.Password)
	}
	return u
}

// Transport builds an *http.Transport routed through the descriptor.
// A nil receiver yields a direct transport.
func (d *Descriptor) Transport() *http.Transport {
	if d == nil {
		return &http.Transport{}
	}
	switch d.Scheme {
	case SchemeSocks4, SchemeSocks5:
		dial := socks.Dial(d.URL().String())
		return &http.Transport{Dial: dial}
	default:
		return &http.Transport{Proxy: http.ProxyURL(d.URL())}
	}
}
