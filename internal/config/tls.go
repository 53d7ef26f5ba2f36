package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

var clientAuthModes = map[string]tls.ClientAuthType{
	"none":     tls.NoClientCert,
	"once":     tls.RequestClientCert,
	"optional": tls.VerifyClientCertIfGiven,
	"required": tls.RequireAndVerifyClientCert,
}

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// TLSConfig builds the listener configuration for the https address.
// The DH parameter file is not used: Go only negotiates ECDHE key
// exchanges.
func (c *Config) TLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}

	if c.TLSMinVersion != "" {
		v, ok := tlsVersions[c.TLSMinVersion]
		if !ok {
			return nil, fmt.Errorf("%w: ssl_min_version %q", ErrInvalidConfig, c.TLSMinVersion)
		}
		tc.MinVersion = v
	}

	mode := strings.ToLower(c.ClientVerify)
	if mode == "" {
		mode = "none"
	}
	auth, ok := clientAuthModes[mode]
	if !ok {
		return nil, fmt.Errorf("%w: ssl_client_verification %q", ErrInvalidConfig, c.ClientVerify)
	}
	tc.ClientAuth = auth

	if c.ClientCAFile != "" {
		pem, err := os.ReadFile(c.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidConfig, c.ClientCAFile)
		}
		tc.ClientCAs = pool
	}

	if c.CipherList != "" {
		suites, err := parseCipherList(c.CipherList)
		if err != nil {
			return nil, err
		}
		tc.CipherSuites = suites
	}

	return tc, nil
}

// parseCipherList maps a colon separated cipher list onto Go cipher
// suites. Names may be given in Go form (TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
// or OpenSSL form (ECDHE-RSA-AES128-GCM-SHA256). TLS 1.3 suites are not
// configurable and are ignored.
func parseCipherList(list string) ([]uint16, error) {
	byName := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		byName[s.Name] = s.ID
	}
	for openssl, goName := range opensslNames {
		if id, ok := byName[goName]; ok {
			byName[openssl] = id
		}
	}

	var suites []uint16
	for _, name := range strings.Split(list, ":") {
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "!") || strings.HasPrefix(name, "TLS_AES") || strings.HasPrefix(name, "TLS_CHACHA20") {
			continue
		}
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown or insecure cipher %q", ErrInvalidConfig, name)
		}
		suites = append(suites, id)
	}
	if len(suites) == 0 {
		return nil, fmt.Errorf("%w: empty cipher list %q", ErrInvalidConfig, list)
	}
	return suites, nil
}

var opensslNames = map[string]string{
	"ECDHE-ECDSA-AES128-GCM-SHA256": "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-RSA-AES128-GCM-SHA256":   "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-ECDSA-AES256-GCM-SHA384": "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-RSA-AES256-GCM-SHA384":   "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-ECDSA-CHACHA20-POLY1305": "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
	"ECDHE-RSA-CHACHA20-POLY1305":   "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
	"ECDHE-ECDSA-AES128-SHA":        "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA",
	"ECDHE-RSA-AES128-SHA":          "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA",
	"ECDHE-ECDSA-AES256-SHA":        "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA",
	"ECDHE-RSA-AES256-SHA":          "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA",
	"AES128-GCM-SHA256":             "TLS_RSA_WITH_AES_128_GCM_SHA256",
	"AES256-GCM-SHA384":             "TLS_RSA_WITH_AES_256_GCM_SHA384",
	"AES128-SHA":                    "TLS_RSA_WITH_AES_128_CBC_SHA",
	"AES256-SHA":                    "TLS_RSA_WITH_AES_256_CBC_SHA",
}
