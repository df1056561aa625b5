// Package local provides the on-device capability backends used when the
// cloud gateway is unreachable: a loopback sidecar serving small models over
// the same wire shape, and a canned provider of last resort that needs no
// models at all.
package local

import (
	"time"

	"github.com/irisware/go-iris/pkg/capability/remote"
)

// DefaultSidecarURL is where the on-device model server listens.
const DefaultSidecarURL = "http://127.0.0.1:8091"

// NewSidecar creates a provider backed by the loopback model sidecar. The
// sidecar speaks the gateway wire shape without auth, so this is the remote
// client pointed at localhost with a tight timeout.
func NewSidecar(opts ...remote.Option) (*remote.Client, error) {
	base := []remote.Option{
		remote.WithName("sidecar"),
		remote.WithBaseURL(DefaultSidecarURL),
		remote.WithTimeout(5 * time.Second),
	}
	return remote.NewClient(append(base, opts...)...)
}
