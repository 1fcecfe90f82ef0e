package sysproc

import (
	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/kernel"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/log"
)

// cacherBackend is the subset of *cacher.Cacher the dispatcher drives.
type cacherBackend interface {
	Handle(source address.Address, req kmsg.CacherRequest) kmsg.CacherResponse
	Reset() error
}

// CacherProcess registers the cacher as a kernel-resident process and runs
// its mailbox dispatch loop (§4.4 "Serving", §6).
type CacherProcess struct {
	self    address.Address
	backend cacherBackend
	k       Kernel
	logger  zerolog.Logger
}

// NewCacherProcess registers backend with k under the reserved "cacher"
// ProcessId and returns the running dispatcher. Call Run in its own
// goroutine to start serving.
func NewCacherProcess(selfNode string, backend cacherBackend, k Kernel) (*CacherProcess, <-chan kmsg.KernelMessage, error) {
	id := processID("cacher")
	mailbox, err := k.Register(&kernel.Process{ID: id, Public: true})
	if err != nil {
		return nil, nil, err
	}
	self := address.Address{Node: selfNode, Process: id}
	return &CacherProcess{self: self, backend: backend, k: k, logger: log.WithProcessID(self.String())}, mailbox, nil
}

// Run drains mailbox until it closes, dispatching each request.
func (p *CacherProcess) Run(mailbox <-chan kmsg.KernelMessage) {
	for km := range mailbox {
		p.handle(km)
	}
}

// Self returns the process's own bus address, the Issuer a caller's root
// capability must match to pass CacherReset's gate (§6).
func (p *CacherProcess) Self() address.Address { return p.self }

func (p *CacherProcess) handle(km kmsg.KernelMessage) {
	var req kmsg.CacherRequest
	if err := km.Message.Decode(&req); err != nil {
		replyTo(p.k, p.self, km, kmsg.CacherResponse{Kind: kmsg.CacherRespErr, Err: kmsg.CacherErrMalformed}, p.logger)
		return
	}

	if req.Kind == kmsg.CacherReset {
		if !p.k.HasCapability(km.Source, address.RootCapability(p.self)) {
			replyTo(p.k, p.self, km, kmsg.CacherResponse{Kind: kmsg.CacherRespErr, Err: kmsg.CacherErrNoRootCap}, p.logger)
			return
		}
		if err := p.backend.Reset(); err != nil {
			p.logger.Error().Err(err).Msg("cacher reset failed")
			replyTo(p.k, p.self, km, kmsg.CacherResponse{Kind: kmsg.CacherRespErr, Err: kmsg.CacherErrMalformed}, p.logger)
			return
		}
		replyTo(p.k, p.self, km, kmsg.CacherResponse{Kind: kmsg.CacherRespOk}, p.logger)
		return
	}

	resp := p.backend.Handle(km.Source, req)
	replyTo(p.k, p.self, km, resp, p.logger)
}
