package sysproc

import (
	"encoding/json"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/ethprovider"
	"github.com/meshkernel/node/pkg/kmsg"
)

// addProviderPayload is the Data behind ConfigAddProvider / one entry of
// ConfigSetProviders (§4.2, §6): exactly one of URL (a UrlProvider) or
// Node+Process (a NodeProvider) is set.
type addProviderPayload struct {
	Name    string          `json:"name"`
	URL     string          `json:"url,omitempty"`
	Node    string          `json:"node,omitempty"`
	Process string          `json:"process,omitempty"`
}

type nodeNamePayload struct {
	Node string `json:"node"`
}

type namePayload struct {
	Name string `json:"name"`
}

type setProvidersPayload struct {
	Providers []addProviderPayload `json:"providers"`
}

// handleConfig dispatches an EthConfigAction, all variants of which require
// the root capability on the caller (§6: "all require root capability").
func (p *EthProcess) handleConfig(km kmsg.KernelMessage, action kmsg.EthConfigAction) {
	if !p.k.HasCapability(km.Source, address.RootCapability(p.self)) {
		p.replyErr(km, kmsg.EthErrPermissionDenied)
		return
	}

	switch action.Kind {
	case kmsg.ConfigAddProvider:
		p.configAddProvider(km, action.Data)
	case kmsg.ConfigRemoveProvider:
		p.configRemoveProvider(km, action.Data)
	case kmsg.ConfigSetPublic:
		s := p.pool.GetSettings()
		s.Public = true
		p.pool.SetSettings(s)
		p.replyOkConfig(km)
	case kmsg.ConfigSetPrivate:
		s := p.pool.GetSettings()
		s.Public = false
		p.pool.SetSettings(s)
		p.replyOkConfig(km)
	case kmsg.ConfigAllowNode:
		p.configToggleNode(km, action.Data, true, true)
	case kmsg.ConfigUnallowNode:
		p.configToggleNode(km, action.Data, true, false)
	case kmsg.ConfigDenyNode:
		p.configToggleNode(km, action.Data, false, true)
	case kmsg.ConfigUndenyNode:
		p.configToggleNode(km, action.Data, false, false)
	case kmsg.ConfigSetProviders:
		p.configSetProviders(km, action.Data)
	case kmsg.ConfigGetProviders:
		replyTo(p.k, p.self, km, kmsg.EthResponse{Kind: kmsg.EthRespValue, Value: marshalBody(p.pool.ProviderNames())}, p.logger)
	case kmsg.ConfigGetAccessSettings:
		replyTo(p.k, p.self, km, kmsg.EthResponse{Kind: kmsg.EthRespValue, Value: marshalBody(p.pool.GetSettings())}, p.logger)
	case kmsg.ConfigGetState:
		replyTo(p.k, p.self, km, kmsg.EthResponse{Kind: kmsg.EthRespValue, Value: marshalBody(p.pool.ProviderNames())}, p.logger)
	default:
		p.replyErr(km, kmsg.EthErrInvalidMethod)
	}
}

func (p *EthProcess) configAddProvider(km kmsg.KernelMessage, data json.RawMessage) {
	var payload addProviderPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		p.replyErr(km, kmsg.EthErrMalformedRequest)
		return
	}
	p.addProvider(payload)
	p.replyOkConfig(km)
}

func (p *EthProcess) addProvider(payload addProviderPayload) {
	if payload.URL != "" {
		up := ethprovider.NewUrlProvider(payload.Name, payload.URL, p.dialer)
		p.pool.AddURLProvider(up)
		return
	}
	proc := address.ProcessId{Name: payload.Process, Package: systemPackage, Publisher: systemPublisher}
	if proc.Name == "" {
		proc = processID("eth")
	}
	np := ethprovider.NewNodeProvider(payload.Node, proc)
	p.pool.AddNodeProvider(np)
}

func (p *EthProcess) configRemoveProvider(km kmsg.KernelMessage, data json.RawMessage) {
	var payload namePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		p.replyErr(km, kmsg.EthErrMalformedRequest)
		return
	}
	p.pool.RemoveProvider(payload.Name)
	p.replyOkConfig(km)
}

func (p *EthProcess) configToggleNode(km kmsg.KernelMessage, data json.RawMessage, allowList, add bool) {
	var payload nodeNamePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		p.replyErr(km, kmsg.EthErrMalformedRequest)
		return
	}
	s := p.pool.GetSettings()
	target := s.Deny
	if allowList {
		target = s.Allow
	}
	if target == nil {
		target = make(map[string]bool)
	}
	if add {
		target[payload.Node] = true
	} else {
		delete(target, payload.Node)
	}
	if allowList {
		s.Allow = target
	} else {
		s.Deny = target
	}
	p.pool.SetSettings(s)
	p.replyOkConfig(km)
}

func (p *EthProcess) configSetProviders(km kmsg.KernelMessage, data json.RawMessage) {
	var payload setProvidersPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		p.replyErr(km, kmsg.EthErrMalformedRequest)
		return
	}
	for _, name := range p.pool.ProviderNames() {
		p.pool.RemoveProvider(name)
	}
	for _, entry := range payload.Providers {
		p.addProvider(entry)
	}
	p.replyOkConfig(km)
}

func (p *EthProcess) replyOkConfig(km kmsg.KernelMessage) {
	replyTo(p.k, p.self, km, kmsg.EthResponse{Kind: kmsg.EthRespOk}, p.logger)
}
