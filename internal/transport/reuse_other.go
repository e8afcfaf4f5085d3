//go:build !unix

package transport

import "syscall"

func reuseAddrControl(_, _ string, _ syscall.RawConn) error { return nil }
