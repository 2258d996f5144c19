package client

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/hutaol/nethelper/internal/config"

	"github.com/sirupsen/logrus"
)

// newHTTPClient builds the shared *http.Client from the client section.
func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	timeout, err := cfg.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid client timeout: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.Client.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.Client.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		logrus.Debugf("Routing requests through proxy %s", proxyURL.Redacted())
	}

	tlsConfig, err := loadTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// loadTLSConfig trusts only the configured certificate when one is set.
// With validates_domain_name off the chain is still verified, the host name is not.
func loadTLSConfig(cfg *config.Config) (*tls.Config, error) {
	certFile := cfg.Client.TLS.CertFile
	validates := cfg.ValidatesDomainName()
	if certFile == "" && validates {
		return nil, nil
	}

	var roots *x509.CertPool
	if certFile != "" {
		pool, err := loadCertPool(certFile)
		if err != nil {
			return nil, err
		}
		roots = pool
		logrus.Debugf("Loaded pinned certificate from %s", certFile)
	}

	tlsConfig := &tls.Config{
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}

	if !validates {
		logrus.Warnf("TLS domain name validation disabled")
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("tls: no peer certificates")
			}
			opts := x509.VerifyOptions{
				Roots:         roots,
				Intermediates: x509.NewCertPool(),
			}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	}

	return tlsConfig, nil
}

// loadCertPool accepts PEM bundles as well as a single DER certificate (.cer).
func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tls cert file: %w", err)
	}

	pool := x509.NewCertPool()
	if pool.AppendCertsFromPEM(data) {
		return pool, nil
	}

	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("parsing tls cert file %s: %w", path, err)
	}
	pool.AddCert(cert)
	return pool, nil
}
