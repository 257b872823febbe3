package simproto

import "encoding/json"

// HELLO (client -> host)
type HelloMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ClientName      string         `json:"client_name,omitempty"`
	EnvName         string         `json:"env_name"`
	EnvKwargs       map[string]any `json:"env_kwargs,omitempty"`
}

// WELCOME (host -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	SimVersion      string   `json:"sim_version,omitempty"`
	Capabilities    []string `json:"capabilities"`
	ImageOrigin     string   `json:"image_origin,omitempty"`
}

// CALL (client -> host). Params is method specific and may be empty.
type CallMsg struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RESULT (host -> client). Exactly one RESULT answers each CALL, matched by ID.
type ResultMsg struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Methods. Optional ones are only called when listed in WELCOME.capabilities
// under the same name.
const (
	MethodReset          = "reset"
	MethodResetFromModel = "reset_from_model"
	MethodResetPhysics   = "reset_physics"
	MethodSetState       = "set_state"
	MethodForward        = "forward"
	MethodStep           = "step"
	MethodRender         = "render"
	MethodGetState       = "get_state"
	MethodGetModel       = "get_model"
	MethodClose          = "close"

	MethodRefreshState   = "refresh_state"
	MethodRefreshSites   = "refresh_sites"
	MethodSetEpMeta      = "set_ep_meta"
	MethodSetAttrsEpMeta = "set_attrs_from_ep_meta"
	MethodEditModelXML   = "edit_model_xml"

	// Host-side on-screen viewer, advertised as capability "viewer".
	MethodViewerOpen   = "viewer_open"
	MethodViewerUpdate = "viewer_update"
	MethodViewerClose  = "viewer_close"
)

// CapViewer is the capability name covering the three viewer methods.
const CapViewer = "viewer"

type ModelParams struct {
	XML string `json:"xml"`
}

type StateParams struct {
	State []float64 `json:"state"`
}

type StepParams struct {
	Action []float64 `json:"action"`
}

type RenderParams struct {
	Camera string `json:"camera"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type MetaParams struct {
	Meta map[string]any `json:"meta"`
}

type StepResult struct {
	Success bool `json:"success"`
}

// RenderResult carries packed RGB rows in the host's image origin.
type RenderResult struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	RGB    []byte `json:"rgb"`
}
