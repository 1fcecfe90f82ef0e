package kmsg

import "encoding/json"

// KernelCommand / KernelResponse model process lifecycle management over
// the message bus (§6).
type KernelCommandKind string

const (
	CmdInitializeProcess KernelCommandKind = "initialize_process"
	CmdRunProcess        KernelCommandKind = "run_process"
	CmdKillProcess       KernelCommandKind = "kill_process"
	CmdGrantCapabilities KernelCommandKind = "grant_capabilities"
	CmdShutdown          KernelCommandKind = "shutdown"
)

type KernelCommand struct {
	Kind KernelCommandKind `json:"kind"`
	Data json.RawMessage   `json:"data,omitempty"`
}

type KernelResponseKind string

const (
	RespInitializedProcess  KernelResponseKind = "initialized_process"
	RespStartedProcess      KernelResponseKind = "started_process"
	RespKilledProcess       KernelResponseKind = "killed_process"
	RespStartProcessError   KernelResponseKind = "start_process_error"
)

type KernelResponse struct {
	Kind KernelResponseKind `json:"kind"`
	Data json.RawMessage    `json:"data,omitempty"`
}

// EthError enumerates the provider pool's caller-visible failure kinds (§6, §7).
type EthError string

const (
	EthErrNoRpcForChain        EthError = "no_rpc_for_chain"
	EthErrRpcTimeout           EthError = "rpc_timeout"
	EthErrRpcMalformedResponse EthError = "rpc_malformed_response"
	EthErrPermissionDenied     EthError = "permission_denied"
	EthErrInvalidMethod        EthError = "invalid_method"
	EthErrMalformedRequest     EthError = "malformed_request"
	EthErrSubscriptionClosed   EthError = "subscription_closed"
)

func (e EthError) Error() string { return string(e) }

// EthActionKind discriminates EthAction's variants.
type EthActionKind string

const (
	EthActionRequest        EthActionKind = "request"
	EthActionSubscribeLogs  EthActionKind = "subscribe_logs"
	EthActionUnsubscribeLogs EthActionKind = "unsubscribe_logs"
)

// EthAction is what a local process or permitted remote node sends to the
// provider pool (§4.2, §6).
type EthAction struct {
	Kind EthActionKind `json:"kind"`

	// Request
	ChainID uint64          `json:"chain_id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`

	// SubscribeLogs / UnsubscribeLogs
	SubID        uint64          `json:"sub_id,omitempty"`
	SubscribeKind string         `json:"subscribe_kind,omitempty"` // e.g. "logs"
	FilterParams json.RawMessage `json:"filter_params,omitempty"`
}

// EthResponseKind discriminates EthResponse's variants.
type EthResponseKind string

const (
	EthRespValue EthResponseKind = "response"
	EthRespOk    EthResponseKind = "ok"
	EthRespErr   EthResponseKind = "err"
)

type EthResponse struct {
	Kind  EthResponseKind `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
	Err   EthError        `json:"err,omitempty"`

	// SubID identifies which subscription an unsolicited push (a Response
	// the subscriber never explicitly awaited) belongs to; zero for a
	// direct eth_* request/response pair.
	SubID uint64 `json:"sub_id,omitempty"`
}

// EthConfigActionKind enumerates the root-capability-gated provider pool
// configuration operations (§6).
type EthConfigActionKind string

const (
	ConfigAddProvider       EthConfigActionKind = "add_provider"
	ConfigRemoveProvider    EthConfigActionKind = "remove_provider"
	ConfigSetPublic         EthConfigActionKind = "set_public"
	ConfigSetPrivate        EthConfigActionKind = "set_private"
	ConfigAllowNode         EthConfigActionKind = "allow_node"
	ConfigUnallowNode       EthConfigActionKind = "unallow_node"
	ConfigDenyNode          EthConfigActionKind = "deny_node"
	ConfigUndenyNode        EthConfigActionKind = "undeny_node"
	ConfigSetProviders      EthConfigActionKind = "set_providers"
	ConfigGetProviders      EthConfigActionKind = "get_providers"
	ConfigGetAccessSettings EthConfigActionKind = "get_access_settings"
	ConfigGetState          EthConfigActionKind = "get_state"
)

type EthConfigAction struct {
	Kind EthConfigActionKind `json:"kind"`
	Data json.RawMessage     `json:"data,omitempty"`
}

// IndexerRequestKind discriminates IndexerRequest's variants (§6).
type IndexerRequestKind string

const (
	IndexerNamehashToName IndexerRequestKind = "namehash_to_name"
	IndexerNodeInfo       IndexerRequestKind = "node_info"
	IndexerGetState       IndexerRequestKind = "get_state"
	IndexerReset          IndexerRequestKind = "reset"
)

type IndexerRequest struct {
	Kind     IndexerRequestKind `json:"kind"`
	Namehash string             `json:"namehash,omitempty"`
	Name     string             `json:"name,omitempty"`
}

// IndexerError enumerates the indexer's caller-visible failure kinds (§6, §8
// scenario 5).
type IndexerError string

const (
	IndexerErrNotFound   IndexerError = "not_found"
	IndexerErrNoRootCap  IndexerError = "no_root_cap"
	IndexerErrMalformed  IndexerError = "malformed_request"
)

func (e IndexerError) Error() string { return string(e) }

// IndexerResponseKind discriminates IndexerResponse's variants.
type IndexerResponseKind string

const (
	IndexerRespName     IndexerResponseKind = "name"
	IndexerRespNodeInfo IndexerResponseKind = "node_info"
	IndexerRespState    IndexerResponseKind = "state"
	IndexerRespOk       IndexerResponseKind = "ok"
	IndexerRespErr      IndexerResponseKind = "err"
)

type IndexerResponse struct {
	Kind  IndexerResponseKind `json:"kind"`
	Value json.RawMessage     `json:"value,omitempty"`
	Err   IndexerError        `json:"err,omitempty"`
}

// CacherRequestKind discriminates CacherRequest's variants (§6).
type CacherRequestKind string

const (
	CacherGetManifest         CacherRequestKind = "get_manifest"
	CacherGetLogCacheContent  CacherRequestKind = "get_log_cache_content"
	CacherGetStatus           CacherRequestKind = "get_status"
	CacherGetLogsByRange      CacherRequestKind = "get_logs_by_range"
	CacherStartProviding      CacherRequestKind = "start_providing"
	CacherStopProviding       CacherRequestKind = "stop_providing"
	CacherSetNodes            CacherRequestKind = "set_nodes"
	CacherReset               CacherRequestKind = "reset"
)

type CacherRequest struct {
	Kind     CacherRequestKind `json:"kind"`
	Filename string            `json:"filename,omitempty"`
	From     uint64            `json:"from_block,omitempty"`
	To       *uint64           `json:"to_block,omitempty"`
	Nodes    []string          `json:"nodes,omitempty"`
}

// CacherError enumerates the cacher's caller-visible failure kinds (§4.4
// "Serving", §7).
type CacherError string

const (
	CacherErrIsStarting   CacherError = "is_starting"
	CacherErrRejected     CacherError = "rejected"
	CacherErrNoRootCap    CacherError = "no_root_cap"
	CacherErrNotFound     CacherError = "not_found"
	CacherErrMalformed    CacherError = "malformed_request"
)

func (e CacherError) Error() string { return string(e) }

// CacherResponseKind discriminates CacherResponse's variants.
type CacherResponseKind string

const (
	CacherRespManifest  CacherResponseKind = "manifest"
	CacherRespContent   CacherResponseKind = "content"
	CacherRespStatus    CacherResponseKind = "status"
	CacherRespLogs      CacherResponseKind = "logs"
	CacherRespOk        CacherResponseKind = "ok"
	CacherRespErr       CacherResponseKind = "err"
)

type CacherResponse struct {
	Kind  CacherResponseKind `json:"kind"`
	Value json.RawMessage    `json:"value,omitempty"`
	Err   CacherError        `json:"err,omitempty"`
}
