package marketplace

import "errors"

var (
	// ErrMissingSession is returned by Authenticate if there are no
	// credentials to restore.
	ErrMissingSession = errors.New("missing session")
	// ErrNoResults is returned by Search if no listing links were found.
	ErrNoResults = errors.New("no listings found")
	// ErrSearchTimeout is returned by Search if the search field or the
	// results did not show up in time.
	ErrSearchTimeout = errors.New("timed out waiting for search results")
	// ErrNavigation is returned if a page could not be opened or did not
	// become ready in time.
	ErrNavigation = errors.New("navigation failed")
	// ErrNoAffordance is returned by SendMessage if the listing has no way
	// to contact the seller.
	ErrNoAffordance = errors.New("no message button found")
	// ErrComposeNotReady is returned by SendMessage if the compose surface
	// did not become interactive in time.
	ErrComposeNotReady = errors.New("compose surface not ready")
	// ErrSendNotConfirmed is returned by SendMessage if the message could
	// not be submitted.
	ErrSendNotConfirmed = errors.New("message could not be submitted")
)
