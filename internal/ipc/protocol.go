package ipc

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	CmdPing        = "ping"
	CmdStart       = "start"
	CmdPause       = "pause"
	CmdToggle      = "toggle"
	CmdSwitchPhase = "switch_phase"
	CmdReset       = "reset"
	CmdStatus      = "status"
)

// StatusData is the payload of a status response.
type StatusData struct {
	State         string `json:"state"`
	Phase         string `json:"phase"`
	Running       bool   `json:"running"`
	RemainingSecs int    `json:"remaining_secs"`
	Title         string `json:"title"`
}
