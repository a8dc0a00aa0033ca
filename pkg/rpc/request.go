package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is the envelope a page sends through the bridge
type Request struct {
	Origin  string `json:"origin"`
	Name    string `json:"name,omitempty"`
	Favicon string `json:"favicon,omitempty"`
	Request Call   `json:"request"`

	// Silent suppresses the post-execution popup update of mutations
	Silent bool `json:"silent,omitempty"`
}

// Call is the method invocation carried by a Request
type Call struct {
	ID     int64  `json:"id"`
	Method Method `json:"method"`
	Params any    `json:"params,omitempty"`
}

// ParseRequest decodes an envelope, keeping numbers in params lossless
func ParseRequest(data []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return &req, nil
}

// EnsureParams replaces missing params with an empty object
func (c *Call) EnsureParams() {
	if c.Params == nil {
		c.Params = map[string]any{}
	}
}

// Object returns the params as an object
func (c *Call) Object() (map[string]any, bool) {
	obj, ok := c.Params.(map[string]any)
	return obj, ok
}

// Array returns the params as a positional list
func (c *Call) Array() ([]any, bool) {
	arr, ok := c.Params.([]any)
	return arr, ok
}

// String returns a string field of object params
func (c *Call) String(key string) (string, bool) {
	obj, ok := c.Object()
	if !ok {
		return "", false
	}
	v, ok := obj[key].(string)
	return v, ok && v != ""
}

// SetParam sets a field of object params in place
func (c *Call) SetParam(key string, value any) error {
	c.EnsureParams()
	obj, ok := c.Object()
	if !ok {
		return fmt.Errorf("%w: params are not an object", ErrInvalidParams)
	}
	obj[key] = value
	return nil
}

// DecodeParams converts the params into dst through their JSON form
func (c *Call) DecodeParams(dst any) error {
	raw, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// PublicKey returns the account public key carried in params
func (r *Request) PublicKey() string {
	v, _ := r.Request.String(ParamPublicKey)
	return v
}

// Param names shared by several handlers
const (
	ParamPublicKey                 = "publicKey"
	ParamQuery                     = "query"
	ParamApplicationID             = "applicationId"
	ParamApplicationOperationBytes = "applicationOperationBytes"
	ParamChainID                   = "chainId"
	ParamTopics                    = "topics"
)
