// Package register implements the first-boot/login handshake that
// associates a local keyfile with an on-chain identity and chooses direct
// vs. router-mediated networking (§4.2 of the component list's "Registration
// flow"). Structured as a sequential step-chain with per-step error
// wrapping: a linear handshake rather than a rolling update.
package register

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/indexer"
	"github.com/meshkernel/node/pkg/keyfile"
	"github.com/meshkernel/node/pkg/log"
)

const keyfileName = "keyfile.json"

// IdentityResolver is the subset of pkg/resolver.Resolver the handshake
// needs: resolving a chosen name to its routing record.
type IdentityResolver interface {
	NodeInfo(ctx context.Context, name string) (indexer.HnsUpdate, bool, error)
}

// NetMode is how this node is reachable, mirroring the indexer's
// direct/indirect distinction (§4.3, §4.5).
type NetMode string

const (
	NetModeDirect NetMode = "direct"
	NetModeRouter NetMode = "router"
)

// Config gathers the handshake's inputs, sourced from cmd/meshnode's flags.
type Config struct {
	Home     string
	Username string
	Password string
}

// Identity is the handshake's output: unlocked key material plus the
// networking mode this node's on-chain registration implies.
type Identity struct {
	Material keyfile.Material
	Record   indexer.HnsUpdate
	Mode     NetMode
}

// Registrar runs the handshake against a live registry resolver.
type Registrar struct {
	resolver IdentityResolver
	logger   zerolog.Logger
}

// New constructs a Registrar bound to resolver.
func New(resolver IdentityResolver) *Registrar {
	return &Registrar{resolver: resolver, logger: log.WithComponent("register")}
}

// Login runs the full handshake: unlock or create the local keyfile,
// resolve the configured username against the registry, and decide this
// node's networking mode from what it finds there.
func (r *Registrar) Login(ctx context.Context, cfg Config) (*Identity, error) {
	mat, isNew, err := r.loadOrCreateKeyfile(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load keyfile: %w", err)
	}
	r.logger.Info().Str("username", mat.Username).Bool("new_keyfile", isNew).Msg("keyfile unlocked")

	rec, err := r.resolveSelf(ctx, mat.Username, mat.Routers)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve on-chain identity: %w", err)
	}

	mode, err := chooseNetworking(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to determine networking mode: %w", err)
	}

	if rec.Indirect() && !routersEqual(mat.Routers, rec.Routers) {
		mat.Routers = rec.Routers
		path := filepath.Join(cfg.Home, keyfileName)
		if err := keyfile.Save(path, mat, cfg.Password); err != nil {
			r.logger.Warn().Err(err).Msg("failed to persist refreshed router cache")
		}
	}

	r.logger.Info().Str("username", mat.Username).Str("mode", string(mode)).Msg("registration complete")
	return &Identity{Material: mat, Record: rec, Mode: mode}, nil
}

// loadOrCreateKeyfile unlocks an existing keyfile at cfg.Home, or generates
// and seals a fresh one for cfg.Username if none exists yet.
func (r *Registrar) loadOrCreateKeyfile(cfg Config) (keyfile.Material, bool, error) {
	path := filepath.Join(cfg.Home, keyfileName)
	if keyfile.Exists(path) {
		mat, err := keyfile.Load(path, cfg.Password)
		return mat, false, err
	}

	mat, err := keyfile.New(cfg.Username)
	if err != nil {
		return keyfile.Material{}, false, err
	}
	if err := keyfile.Save(path, mat, cfg.Password); err != nil {
		return keyfile.Material{}, false, err
	}
	return mat, true, nil
}

// resolveSelf looks up name's on-chain routing record. This handshake never
// writes to the registry itself: registration on-chain is assumed to have
// happened out of band, and a miss here is a configuration error rather
// than something this node can self-heal.
//
// cachedRouters is the keyfile's last-known router list (if any). If the
// live lookup itself errors (registry unreachable), a non-empty cache lets
// the node still come up router-mediated against previously known routers
// rather than failing boot outright; an empty record found on-chain (ok ==
// false) is treated as a real configuration error regardless of cache.
func (r *Registrar) resolveSelf(ctx context.Context, name string, cachedRouters []common.Hash) (indexer.HnsUpdate, error) {
	rec, ok, err := r.resolver.NodeInfo(ctx, name)
	if err != nil {
		if len(cachedRouters) > 0 {
			r.logger.Warn().Err(err).Str("name", name).Msg("registry lookup failed, falling back to cached router list")
			return indexer.HnsUpdate{Name: name, Routers: cachedRouters}, nil
		}
		return indexer.HnsUpdate{}, err
	}
	if !ok {
		return indexer.HnsUpdate{}, fmt.Errorf("identity %q has no complete routing record in the registry", name)
	}
	return rec, nil
}

// routersEqual reports whether two namehash lists contain the same routers
// in the same order, which is how the registry returns them.
func routersEqual(a, b []common.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// chooseNetworking implements §4.3/§4.5's direct-XOR-indirect invariant: a
// complete record is exactly one of the two, never both or neither.
func chooseNetworking(rec indexer.HnsUpdate) (NetMode, error) {
	switch {
	case rec.Direct():
		return NetModeDirect, nil
	case rec.Indirect():
		return NetModeRouter, nil
	default:
		return "", fmt.Errorf("routing record for %q is neither direct nor router-mediated", rec.Name)
	}
}
