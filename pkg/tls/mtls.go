package tls

import (
	"crypto/tls"
	"fmt"
	"net"
)

// loadMtlsConfig returns a *tls.Config that presents the certificate at
// crtPath and requires peers to present a certificate signed by the CA
// at caCrtPath.
func loadMtlsConfig(caCrtPath, crtPath, keyPath string) (*tls.Config, error) {
	pool, err := LoadCertPool(caCrtPath)
	if err != nil {
		return nil, fmt.Errorf("load cert pool from (%s): %v", caCrtPath, err)
	}
	cert, err := tls.LoadX509KeyPair(crtPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load x509 key pair from (%s, %s): %v", crtPath, keyPath, err)
	}
	cfg := &tls.Config{
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	return cfg, nil
}

// WrapListenerWithMtls returns a listener serving TLS with the given
// certificate that only accepts clients presenting a certificate signed
// by the CA at caCrtPath.
func WrapListenerWithMtls(l net.Listener, caCrtPath, crtPath, keyPath string) (net.Listener, error) {
	config, err := loadMtlsConfig(caCrtPath, crtPath, keyPath)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(l, config), nil
}

// DialWithMtls returns a connection to addr over mutual TLS, presenting
// the certificate at crtPath and verifying the peer against the CA at
// caCrtPath.
func DialWithMtls(network, addr string, caCrtPath string, crtPath string, keyPath string) (net.Conn, error) {
	config, err := loadMtlsConfig(caCrtPath, crtPath, keyPath)
	if err != nil {
		return nil, err
	}
	return tls.Dial(network, addr, config)
}
