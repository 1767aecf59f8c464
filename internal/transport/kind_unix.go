//go:build !windows

package transport

// DefaultKind is the channel used unless a collector address is configured.
const DefaultKind = KindDatagram
