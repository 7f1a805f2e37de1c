// Package surface provides the embedded browsing surfaces that back
// provider sessions: one isolated headless-Chromium container per storage
// scope, driven over the DevTools protocol.
package surface

import "context"

// IdentityUserAgent is the fixed, non-fingerprintable identity string
// applied to every surface at provision time.
const IdentityUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Notification is a host-level notification surfaced by a page
// (title + body strings).
type Notification struct {
	Title string
	Body  string
}

// Surface is one live browsing context. Implementations are owned by a Host
// and torn down through it.
type Surface interface {
	// WatchLoad returns a oneshot channel that resolves when the next
	// navigation finishes (nil) or rejects (error). Callers register the
	// watcher strictly before issuing Navigate so the load signal cannot
	// be missed.
	WatchLoad() <-chan error

	// Navigate issues a navigation. Load completion is reported through
	// the channel obtained from WatchLoad.
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the surface's current navigation target.
	CurrentURL(ctx context.Context) (string, error)

	// Evaluate runs a JavaScript expression in the page and returns its
	// string value.
	Evaluate(ctx context.Context, expression string) (string, error)

	// SetVisible foregrounds or backgrounds the surface. Hidden surfaces
	// are frozen to stop burning CPU; visible ones resume.
	SetVisible(ctx context.Context, visible bool) error

	// Notifications streams host-level notification events emitted by the
	// page. The channel closes when the surface closes.
	Notifications() <-chan Notification

	// Close detaches from the surface. The backing container is released
	// separately through the Host.
	Close() error
}

// Host provisions and releases browsing surfaces.
type Host interface {
	// Provision creates (or re-attaches to) the surface for a storage
	// scope. Reusing a scope reuses its persistent storage partition, so
	// cookies and credentials survive restarts.
	Provision(ctx context.Context, scope string) (Surface, error)

	// Release tears down the surface for a scope. When purgeStorage is
	// set the storage partition is removed too; scopes are never reused
	// after that.
	Release(ctx context.Context, scope string, purgeStorage bool) error

	// EnsureNetwork creates the isolated surface network if needed.
	EnsureNetwork(ctx context.Context) (string, error)
}
