//go:build windows

package transport

// DefaultKind is the channel used unless a collector address is configured.
// Windows has no unix datagram sockets.
const DefaultKind = KindStream
