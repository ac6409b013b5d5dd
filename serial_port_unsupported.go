//go:build !linux

package main

import "fmt"

func OpenSerialPort(path string, baud int) (SerialPort, error) {
	return nil, fmt.Errorf("serial port access not supported on this platform")
}

func init() {
	compiledFeatures = append(compiledFeatures, "serial:unavailable")
}
