//go:build windows

package launch

import "os"

func killSelf() {
	os.Exit(3)
}
