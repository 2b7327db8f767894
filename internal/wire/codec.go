package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// Wire layout constants. All integers are big-endian.
const (
	Magic   uint16 = 0xB7B7
	Version uint8  = 1

	// HeaderSize is magic(2) + version(1) + kind(1).
	HeaderSize = 4
	// SubproblemFixedSize is the fixed part of a subproblem record after
	// the header: creator(4) serial(8) bound(8) depth(4) state(1)
	// childrenLeft(4) tokenCount(4) payloadLen(4).
	SubproblemFixedSize = 37
	// TokenRecordSize is the token record after the header: creator(4)
	// serial(8) owner(4) childIndex(4) represented(4) bound(8).
	TokenRecordSize = 32
)

// Kind identifies the record following the header.
type Kind uint8

const (
	KindSubproblem Kind = 1
	KindToken      Kind = 2
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSubproblem:
		return "subproblem"
	case KindToken:
		return "token"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Packer appends the payload of sp to buf.
type Packer func(sp *problem.Subproblem, buf []byte) ([]byte, error)

// Unpacker decodes a payload produced by a Packer.
type Unpacker func(data []byte) (any, error)

// Codec encodes and decodes subproblem and token records. The maximum
// payload size is fixed at construction.
type Codec struct {
	maxPayload int
	pack       Packer
	unpack     Unpacker
	buf        *Buffer
}

// NewCodec creates a Codec for the negotiated maximum payload size.
// onRescale, if non-nil, is called when a payload overflows the transfer
// buffer.
func NewCodec(maxPayload int, pack Packer, unpack Unpacker, onRescale RescaleFunc) *Codec {
	return &Codec{
		maxPayload: maxPayload,
		pack:       pack,
		unpack:     unpack,
		buf:        NewBuffer(HeaderSize+SubproblemFixedSize+maxPayload, onRescale),
	}
}

// MaxPayload returns the negotiated maximum payload size.
func (c *Codec) MaxPayload() int {
	return c.maxPayload
}

// Buffer returns the codec's transfer buffer.
func (c *Codec) Buffer() *Buffer {
	return c.buf
}

// EncodeSubproblem serializes sp. The returned slice is freshly allocated
// and owned by the caller.
func (c *Codec) EncodeSubproblem(sp *problem.Subproblem) ([]byte, error) {
	b := c.buf.Reset()
	b = appendHeader(b, KindSubproblem)
	b = binary.BigEndian.AppendUint32(b, uint32(sp.ID.Creator))
	b = binary.BigEndian.AppendUint64(b, sp.ID.Serial)
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(sp.Bound))
	b = binary.BigEndian.AppendUint32(b, uint32(sp.Depth))
	b = append(b, uint8(sp.State))
	b = binary.BigEndian.AppendUint32(b, uint32(sp.ChildrenLeft))
	b = binary.BigEndian.AppendUint32(b, uint32(sp.TokenCount))
	lenAt := len(b)
	b = binary.BigEndian.AppendUint32(b, 0)

	start := len(b)
	b, err := c.pack(sp, b)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrApplication, "pack %s: %v", sp.ID, err)
	}
	n := len(b) - start
	binary.BigEndian.PutUint32(b[lenAt:], uint32(n))
	c.buf.Keep(b)
	return c.buf.Copy(), nil
}

// DecodeSubproblem parses a subproblem record.
func (c *Codec) DecodeSubproblem(data []byte) (*problem.Subproblem, error) {
	kind, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	if kind != KindSubproblem {
		return nil, errors.NewProtocolError(fmt.Sprintf("expected subproblem, got %s", kind), errors.ErrUnexpectedMessage)
	}
	body := data[HeaderSize:]
	if len(body) < SubproblemFixedSize {
		return nil, errors.NewProtocolError(
			fmt.Sprintf("subproblem record is %d bytes, need %d", len(body), SubproblemFixedSize), errors.ErrTruncated)
	}

	sp := &problem.Subproblem{
		ID: problem.ID{
			Creator: int32(binary.BigEndian.Uint32(body[0:])),
			Serial:  binary.BigEndian.Uint64(body[4:]),
		},
		Bound:        math.Float64frombits(binary.BigEndian.Uint64(body[12:])),
		Depth:        int(binary.BigEndian.Uint32(body[20:])),
		State:        problem.State(body[24]),
		ChildrenLeft: int(binary.BigEndian.Uint32(body[25:])),
		TokenCount:   int(binary.BigEndian.Uint32(body[29:])),
	}
	if !sp.State.Valid() {
		return nil, errors.NewProtocolError(fmt.Sprintf("state %d", body[24]), errors.ErrStateOutOfRange)
	}
	n := int(binary.BigEndian.Uint32(body[33:]))
	payload := body[SubproblemFixedSize:]
	if len(payload) != n {
		return nil, errors.NewProtocolError(
			fmt.Sprintf("payload is %d bytes, header declares %d", len(payload), n), errors.ErrTruncated)
	}
	sp.Payload, err = c.unpack(payload)
	if err != nil {
		return nil, errors.NewProtocolError(fmt.Sprintf("unpack %s: %v", sp.ID, err), errors.ErrApplication)
	}
	return sp, nil
}

// EncodeToken serializes a token record. The process-local ref is never
// written.
func EncodeToken(tok problem.Token) []byte {
	b := make([]byte, 0, HeaderSize+TokenRecordSize)
	b = appendHeader(b, KindToken)
	b = binary.BigEndian.AppendUint32(b, uint32(tok.ID.Creator))
	b = binary.BigEndian.AppendUint64(b, tok.ID.Serial)
	b = binary.BigEndian.AppendUint32(b, uint32(int32(tok.Owner)))
	b = binary.BigEndian.AppendUint32(b, uint32(tok.ChildIndex))
	b = binary.BigEndian.AppendUint32(b, uint32(tok.Represented))
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(tok.Bound))
	return b
}

// DecodeToken parses a token record. The decoded token refers to its owner
// remotely.
func DecodeToken(data []byte) (problem.Token, error) {
	kind, err := readHeader(data)
	if err != nil {
		return problem.Token{}, err
	}
	if kind != KindToken {
		return problem.Token{}, errors.NewProtocolError(fmt.Sprintf("expected token, got %s", kind), errors.ErrUnexpectedMessage)
	}
	body := data[HeaderSize:]
	if len(body) != TokenRecordSize {
		return problem.Token{}, errors.NewProtocolError(
			fmt.Sprintf("token record is %d bytes, want %d", len(body), TokenRecordSize), errors.ErrTruncated)
	}
	owner := int(int32(binary.BigEndian.Uint32(body[12:])))
	return problem.Token{
		ID: problem.ID{
			Creator: int32(binary.BigEndian.Uint32(body[0:])),
			Serial:  binary.BigEndian.Uint64(body[4:]),
		},
		Owner:       owner,
		ChildIndex:  int(binary.BigEndian.Uint32(body[16:])),
		Represented: int(binary.BigEndian.Uint32(body[20:])),
		Bound:       math.Float64frombits(binary.BigEndian.Uint64(body[24:])),
		Ref:         problem.RemoteRef(owner),
	}, nil
}

// PeekKind returns the record kind without decoding the record.
func PeekKind(data []byte) (Kind, error) {
	return readHeader(data)
}

func appendHeader(b []byte, kind Kind) []byte {
	b = binary.BigEndian.AppendUint16(b, Magic)
	return append(b, Version, uint8(kind))
}

func readHeader(data []byte) (Kind, error) {
	if len(data) < HeaderSize {
		return 0, errors.NewProtocolError(fmt.Sprintf("%d-byte message has no header", len(data)), errors.ErrTruncated)
	}
	if m := binary.BigEndian.Uint16(data); m != Magic {
		return 0, errors.NewProtocolError(fmt.Sprintf("bad magic 0x%04x", m), errors.ErrCorruptHeader)
	}
	if v := data[2]; v != Version {
		return 0, errors.NewProtocolError(fmt.Sprintf("unsupported version %d", v), errors.ErrCorruptHeader)
	}
	kind := Kind(data[3])
	if kind != KindSubproblem && kind != KindToken {
		return 0, errors.NewProtocolError(fmt.Sprintf("unknown kind %d", data[3]), errors.ErrCorruptHeader)
	}
	return kind, nil
}
