package rpc

// PopupRequestType tells the UI what a popup message is about
type PopupRequestType string

const (
	PopupConfirmation PopupRequestType = "confirmation"
	PopupExecution    PopupRequestType = "execution"
)

// PopupRequest is the payload of popup.new and popup.update messages
type PopupRequest struct {
	Type    PopupRequestType `json:"type"`
	Request *Request         `json:"request"`

	// PrivData carries the execution result to the UI
	PrivData any `json:"privData,omitempty"`
}

// ConfirmationReply is the UI answer to popup.new
type ConfirmationReply struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// PopupReply is the UI acknowledgement of popup.update. A non-zero code vetoes.
type PopupReply struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// PopupClosed is sent by the UI when a popup surface goes away
type PopupClosed struct {
	RequestID int64 `json:"requestId"`
}
