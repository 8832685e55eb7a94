//go:build !windows

package audio

import "fmt"

// openLoopbackSource reports loopback capture as unsupported outside
// Windows; the recorder calls into this package whenever
// include_system_audio is set, so on other hosts Start returns this error.
func openLoopbackSource() (source, error) {
	return nil, fmt.Errorf("audio loopback capture is not supported on this platform")
}
