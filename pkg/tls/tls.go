// Package tls wraps the DAP listener and the agent connection with TLS.
// Certificates are always loaded from files, there is no support for
// system cert stores.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"net"
)

// LoadCertPool returns a certificate pool holding the certificates from
// the PEM file at caCrtPath.
func LoadCertPool(caCrtPath string) (*x509.CertPool, error) {
	pem, err := ioutil.ReadFile(caCrtPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("pool append certs from pem failed")
	}
	return pool, nil
}

// WrapListenerWithTls returns a listener serving TLS with the given
// certificate. Clients are not authenticated.
func WrapListenerWithTls(l net.Listener, crtPath, keyPath string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(crtPath, keyPath)
	if err != nil {
		return nil, err
	}
	config := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	return tls.NewListener(l, config), nil
}

// DialWithTls returns a connection to addr over TLS, verifying the peer
// against the certificate at svcCrtPath.
func DialWithTls(network, addr, svcCrtPath string) (net.Conn, error) {
	pool, err := LoadCertPool(svcCrtPath)
	if err != nil {
		return nil, err
	}
	return tls.Dial(network, addr, &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})
}
