package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnknownRequestType = errors.New("unknown request type")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrFrameTooLarge      = errors.New("frame too large")
	ErrEmptyFrame         = errors.New("empty frame")
)

// ProtocolError reports input that cannot be decoded into a message.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func EncodeRequest(req Request) ([]byte, error) {
	if err := validateRequest(req); err != nil {
		return nil, &ProtocolError{Op: "encode request", Err: err}
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, &ProtocolError{Op: "encode request", Err: err}
	}
	return raw, nil
}

func DecodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := strictUnmarshal(raw, &req); err != nil {
		return Request{}, &ProtocolError{Op: "decode request", Err: err}
	}
	if err := validateRequest(req); err != nil {
		return Request{}, &ProtocolError{Op: "decode request", Err: err}
	}
	return req, nil
}

func EncodeResponse(resp Response) ([]byte, error) {
	if err := validateResponse(resp); err != nil {
		return nil, &ProtocolError{Op: "encode response", Err: err}
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, &ProtocolError{Op: "encode response", Err: err}
	}
	return raw, nil
}

func DecodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := strictUnmarshal(raw, &resp); err != nil {
		return Response{}, &ProtocolError{Op: "decode response", Err: err}
	}
	if err := validateResponse(resp); err != nil {
		return Response{}, &ProtocolError{Op: "decode response", Err: err}
	}
	return resp, nil
}

func strictUnmarshal(raw []byte, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrEmptyFrame
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after message")
	}
	return nil
}

func validateRequest(req Request) error {
	if !req.Type.Valid() {
		return ErrUnknownRequestType
	}
	switch req.Type.Args() {
	case ArgsName:
		name, err := req.Name()
		if err != nil {
			return err
		}
		if name == "" {
			return errors.Wrapf(ErrMalformedPayload, "%s requires a name", req.Type)
		}
	case ArgsTrade:
		args, err := req.Trade()
		if err != nil {
			return err
		}
		if args.Name == "" {
			return errors.Wrapf(ErrMalformedPayload, "%s requires an item name", req.Type)
		}
	}
	return nil
}

func validateResponse(resp Response) error {
	if !resp.Type.Valid() {
		return ErrUnknownRequestType
	}
	if !resp.Success {
		if len(resp.Data) != 0 {
			return errors.Wrap(ErrMalformedPayload, "failed response must not carry data")
		}
		if resp.Message == "" {
			return errors.Wrap(ErrMalformedPayload, "failed response must carry a message")
		}
	}
	return nil
}
