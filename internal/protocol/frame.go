package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameSize bounds a single encoded message.
const MaxFrameSize = 1 << 20

const headerSize = 4

// WriteFrame writes body prefixed with its big-endian uint32 length in a
// single Write call.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return &ProtocolError{Op: "write frame", Err: ErrEmptyFrame}
	}
	if len(body) > MaxFrameSize {
		return &ProtocolError{Op: "write frame", Err: ErrFrameTooLarge}
	}
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "write frame failed")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A stream closed exactly on a
// frame boundary yields io.EOF unwrapped.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read frame header failed")
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return nil, &ProtocolError{Op: "read frame", Err: ErrEmptyFrame}
	}
	if size > MaxFrameSize {
		return nil, &ProtocolError{Op: "read frame", Err: ErrFrameTooLarge}
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "read frame body failed")
	}
	return body, nil
}

func WriteRequest(w io.Writer, req Request) error {
	raw, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, raw)
}

func ReadRequest(r io.Reader) (Request, error) {
	raw, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	return DecodeRequest(raw)
}

func WriteResponse(w io.Writer, resp Response) error {
	raw, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, raw)
}

func ReadResponse(r io.Reader) (Response, error) {
	raw, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(raw)
}
