package sensornet

import "net"

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
