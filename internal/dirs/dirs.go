// Package dirs provides the well-known locations shared by the shim and
// collectors.
package dirs

import (
	"os"
	"path/filepath"
)

// SocketName is the file name of the collector's datagram socket.
const SocketName = ".shimtrace.sock"

// CollectorSocket returns the datagram socket path a collector listens on.
// It lives directly in the platform temp directory ($TMPDIR on Unix), so a
// shim and a collector agree on it without any coordination.
func CollectorSocket() string {
	return filepath.Join(os.TempDir(), SocketName)
}

// CollectorAddress is the loopback TCP endpoint used where datagram
// sockets are unavailable or when a collector address is configured.
const CollectorAddress = "127.0.0.1:13657"
