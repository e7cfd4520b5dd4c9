package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR profile of the wire format, used for HTTP bodies. Messages encode as
// CBOR arrays in struct field order; absent optional fields encode as null.
// A Command encodes as a two element array [tag, body] so that the variant
// tags match the compact binary codec.

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

type cborUpdateStatus struct {
	_       struct{} `cbor:",toarray"`
	Version []byte
	Offset  uint32
}

type cborStatus struct {
	_             struct{} `cbor:",toarray"`
	Version       []byte
	MTU           *uint32
	CorrelationID *uint32
	Update        *cborUpdateStatus
}

type cborCommand struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint8
	Body cbor.RawMessage
}

type cborWait struct {
	_             struct{} `cbor:",toarray"`
	CorrelationID *uint32
	Poll          *uint32
}

type cborSync struct {
	_             struct{} `cbor:",toarray"`
	Version       []byte
	CorrelationID *uint32
	Poll          *uint32
}

type cborWrite struct {
	_             struct{} `cbor:",toarray"`
	Version       []byte
	CorrelationID *uint32
	Offset        uint32
	Data          []byte
}

type cborSwap struct {
	_             struct{} `cbor:",toarray"`
	Version       []byte
	CorrelationID *uint32
	Checksum      []byte
}

// MarshalStatusCBOR encodes s as CBOR.
func MarshalStatusCBOR(s *Status) ([]byte, error) {
	cs := cborStatus{
		Version:       s.Version,
		MTU:           s.MTU,
		CorrelationID: s.CorrelationID,
	}
	if s.Update != nil {
		cs.Update = &cborUpdateStatus{
			Version: s.Update.Version,
			Offset:  s.Update.Offset,
		}
	}
	return encMode.Marshal(&cs)
}

// UnmarshalStatusCBOR decodes a CBOR encoded Status.
func UnmarshalStatusCBOR(data []byte) (*Status, error) {
	var cs cborStatus
	if err := decMode.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s := &Status{
		Version:       cs.Version,
		MTU:           cs.MTU,
		CorrelationID: cs.CorrelationID,
	}
	if cs.Update != nil {
		s.Update = &UpdateStatus{
			Version: cs.Update.Version,
			Offset:  cs.Update.Offset,
		}
	}
	return s, nil
}

// MarshalCommandCBOR encodes c as CBOR.
func MarshalCommandCBOR(c *Command) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	switch c.Tag {
	case TagWait:
		body, err = encMode.Marshal(&cborWait{CorrelationID: c.CorrelationID, Poll: c.Poll})
	case TagSync:
		body, err = encMode.Marshal(&cborSync{Version: c.Version, CorrelationID: c.CorrelationID, Poll: c.Poll})
	case TagWrite:
		body, err = encMode.Marshal(&cborWrite{Version: c.Version, CorrelationID: c.CorrelationID, Offset: c.Offset, Data: c.Data})
	case TagSwap:
		body, err = encMode.Marshal(&cborSwap{Version: c.Version, CorrelationID: c.CorrelationID, Checksum: c.Checksum})
	default:
		return nil, fmt.Errorf("%w: command tag %d", ErrInvalid, c.Tag)
	}
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(&cborCommand{Tag: c.Tag, Body: body})
}

// UnmarshalCommandCBOR decodes a CBOR encoded Command.
func UnmarshalCommandCBOR(data []byte) (*Command, error) {
	var cc cborCommand
	if err := decMode.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c := &Command{Tag: cc.Tag}
	switch cc.Tag {
	case TagWait:
		var b cborWait
		if err := decMode.Unmarshal(cc.Body, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		c.CorrelationID, c.Poll = b.CorrelationID, b.Poll
	case TagSync:
		var b cborSync
		if err := decMode.Unmarshal(cc.Body, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		c.Version, c.CorrelationID, c.Poll = b.Version, b.CorrelationID, b.Poll
	case TagWrite:
		var b cborWrite
		if err := decMode.Unmarshal(cc.Body, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		c.Version, c.CorrelationID, c.Offset, c.Data = b.Version, b.CorrelationID, b.Offset, b.Data
	case TagSwap:
		var b cborSwap
		if err := decMode.Unmarshal(cc.Body, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		c.Version, c.CorrelationID, c.Checksum = b.Version, b.CorrelationID, b.Checksum
	default:
		return nil, fmt.Errorf("%w: command tag %d", ErrInvalid, cc.Tag)
	}
	return c, nil
}
