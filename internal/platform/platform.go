// Package platform detects the host platform to select between the
// native macOS-arm64 embedding sidecar and the cross-platform
// containerized endpoint.
package platform

import (
	"runtime"

	"github.com/ebitengine/purego"
)

// Backend identifies which embedding sidecar transport the embed
// client should default to.
type Backend string

const (
	// BackendNative targets a sidecar running as a local process on
	// Apple Silicon, reached over a fixed loopback port.
	BackendNative Backend = "native"

	// BackendContainerized targets a sidecar reached over the
	// cross-platform containerized endpoint (e.g. a local Ollama
	// container or daemon listening on its default port).
	BackendContainerized Backend = "containerized"
)

// IsAppleSilicon reports whether the current process is running on
// macOS/arm64, the platform where a native sidecar is available.
func IsAppleSilicon() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// DefaultBackend returns the platform's default embedding backend:
// native on macOS/arm64, containerized everywhere else. Callers may
// still override via explicit configuration.
func DefaultBackend() Backend {
	if IsAppleSilicon() {
		return BackendNative
	}
	return BackendContainerized
}

// ProbeDynamicLibrary reports whether libPath can be dynamically
// loaded on this host, using purego so the check works without CGO.
// No code in this module calls it; DefaultBackend does not probe libraries.
func ProbeDynamicLibrary(libPath string) bool {
	handle, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return false
	}
	_ = purego.Dlclose(handle)
	return true
}
