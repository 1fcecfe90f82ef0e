package ethprovider

import "errors"

// ErrNotActivated is returned by UrlProvider.call when no transport is open.
var ErrNotActivated = errors.New("ethprovider: transport not activated")
