package rpc

// Error is the wire form of a failed request
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is returned to the origin for every request
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// NewResult wraps a successful result
func NewResult(result any) *Response {
	return &Response{Result: result}
}

// NewError maps any pipeline error to the generic wire error
func NewError(err error) *Response {
	return &Response{Error: &Error{Code: ErrorCodeGeneric, Message: err.Error()}}
}
