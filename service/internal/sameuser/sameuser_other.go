//go:build !linux
// +build !linux

package sameuser

import "net"

// CanAccept returns true when the connection should be served. The
// same-user check is only implemented on Linux, everywhere else all
// connections are accepted.
func CanAccept(listenAddr, localAddr, remoteAddr net.Addr) bool {
	return true
}
