package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// stringPacker treats payloads as strings.
func stringPacker(sp *problem.Subproblem, buf []byte) ([]byte, error) {
	s, ok := sp.Payload.(string)
	if !ok {
		return nil, fmt.Errorf("payload is %T", sp.Payload)
	}
	return append(buf, s...), nil
}

func stringUnpacker(data []byte) (any, error) {
	return string(data), nil
}

func newTestCodec(maxPayload int, onRescale RescaleFunc) *Codec {
	return NewCodec(maxPayload, stringPacker, stringUnpacker, onRescale)
}

func TestCodec_Subproblem(t *testing.T) {
	c := newTestCodec(16, nil)
	in := &problem.Subproblem{
		ID:           problem.ID{Creator: problem.RampUpCreator, Serial: 1 << 40},
		Bound:        -12.5,
		Depth:        7,
		State:        problem.StateBounded,
		ChildrenLeft: 2,
		TokenCount:   1,
		Payload:      "abc",
	}
	data, err := c.EncodeSubproblem(in)
	if err != nil {
		t.Fatalf("EncodeSubproblem: %v", err)
	}
	if len(data) != HeaderSize+SubproblemFixedSize+3 {
		t.Errorf("len = %d, want %d", len(data), HeaderSize+SubproblemFixedSize+3)
	}
	if kind, _ := PeekKind(data); kind != KindSubproblem {
		t.Errorf("PeekKind() = %v", kind)
	}

	out, err := c.DecodeSubproblem(data)
	if err != nil {
		t.Fatalf("DecodeSubproblem: %v", err)
	}
	if out.ID != in.ID || out.Bound != in.Bound || out.Depth != in.Depth ||
		out.State != in.State || out.ChildrenLeft != in.ChildrenLeft ||
		out.TokenCount != in.TokenCount || out.Payload != "abc" {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

func TestCodec_EncodedBytesAreOwned(t *testing.T) {
	c := newTestCodec(8, nil)
	first, _ := c.EncodeSubproblem(&problem.Subproblem{Payload: "first"})
	c.EncodeSubproblem(&problem.Subproblem{Payload: "other"})
	sp, err := c.DecodeSubproblem(first)
	if err != nil {
		t.Fatal(err)
	}
	if sp.Payload != "first" {
		t.Errorf("Payload = %v, the buffer was shared with the caller", sp.Payload)
	}
}

func TestCodec_Rescale(t *testing.T) {
	var from, to int
	c := newTestCodec(4, func(f, t int) { from, to = f, t })

	data, err := c.EncodeSubproblem(&problem.Subproblem{Payload: strings.Repeat("x", 100)})
	if err != nil {
		t.Fatalf("oversized payload must not fail: %v", err)
	}
	if c.Buffer().Rescales() != 1 {
		t.Errorf("Rescales() = %d, want 1", c.Buffer().Rescales())
	}
	if from != HeaderSize+SubproblemFixedSize+4 || to < len(data) {
		t.Errorf("rescale reported %d -> %d", from, to)
	}
	sp, err := c.DecodeSubproblem(data)
	if err != nil || len(sp.Payload.(string)) != 100 {
		t.Errorf("DecodeSubproblem after rescale = %v, %v", sp, err)
	}

	c.EncodeSubproblem(&problem.Subproblem{Payload: "x"})
	if c.Buffer().Rescales() != 1 {
		t.Error("a record that fits must not rescale")
	}
}

func TestCodec_PackFailure(t *testing.T) {
	c := newTestCodec(4, nil)
	_, err := c.EncodeSubproblem(&problem.Subproblem{Payload: 42})
	if !errors.Is(err, errors.ErrApplication) {
		t.Errorf("err = %v, want ErrApplication", err)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	c := newTestCodec(8, nil)
	good, _ := c.EncodeSubproblem(&problem.Subproblem{Payload: "ok"})

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}
	tests := []struct {
		name  string
		data  []byte
		cause error
	}{
		{"empty", nil, errors.ErrTruncated},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 0; return b }), errors.ErrCorruptHeader},
		{"bad version", mutate(func(b []byte) []byte { b[2] = 9; return b }), errors.ErrCorruptHeader},
		{"unknown kind", mutate(func(b []byte) []byte { b[3] = 7; return b }), errors.ErrCorruptHeader},
		{"token kind", mutate(func(b []byte) []byte { b[3] = byte(KindToken); return b }), errors.ErrUnexpectedMessage},
		{"truncated fixed part", good[:HeaderSize+10], errors.ErrTruncated},
		{"truncated payload", good[:len(good)-1], errors.ErrTruncated},
		{"state out of range", mutate(func(b []byte) []byte { b[HeaderSize+24] = 200; return b }), errors.ErrStateOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DecodeSubproblem(tt.data)
			if err == nil {
				t.Fatal("DecodeSubproblem should fail")
			}
			if !errors.IsFatal(err) {
				t.Errorf("err = %v, want a fatal protocol error", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("err = %v, want cause %v", err, tt.cause)
			}
		})
	}
}

func TestToken(t *testing.T) {
	in := problem.Token{
		ID:          problem.ID{Creator: 3, Serial: 99},
		Owner:       3,
		ChildIndex:  1,
		Represented: 1,
		Bound:       41.5,
		Ref:         problem.LocalRef(problem.Handle{}),
	}
	data := EncodeToken(in)
	if len(data) != HeaderSize+TokenRecordSize {
		t.Errorf("len = %d, want %d", len(data), HeaderSize+TokenRecordSize)
	}
	out, err := DecodeToken(data)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if out.ID != in.ID || out.Owner != 3 || out.ChildIndex != 1 || out.Represented != 1 || out.Bound != 41.5 {
		t.Errorf("decoded %+v", out)
	}
	if owner, ok := out.Ref.Remote(); !ok || owner != 3 {
		t.Errorf("decoded ref = %v, want remote(3)", out.Ref)
	}
	if _, err := DecodeToken(data[:len(data)-2]); !errors.Is(err, errors.ErrTruncated) {
		t.Errorf("truncated token err = %v", err)
	}
}

func TestFrame(t *testing.T) {
	framed := Frame([]byte("problem"))
	if binary.BigEndian.Uint32(framed) != 7 {
		t.Errorf("length prefix = %d, want 7", binary.BigEndian.Uint32(framed))
	}
	body, err := Unframe(framed)
	if err != nil || string(body) != "problem" {
		t.Errorf("Unframe() = %q, %v", body, err)
	}
	if _, err := Unframe(framed[:5]); !errors.IsFatal(err) {
		t.Errorf("short frame err = %v", err)
	}
}

func TestTags(t *testing.T) {
	counted := map[Tag]bool{}
	for _, tag := range CountedTags() {
		counted[tag] = true
		if !tag.Counted() {
			t.Errorf("%v listed as counted but Counted() = false", tag)
		}
	}
	for tag := Tag(1); tag < tagLimit; tag++ {
		if !tag.Valid() {
			t.Errorf("%d should be valid", tag)
		}
		if tag.Counted() != counted[tag] {
			t.Errorf("%v: Counted() = %v", tag, tag.Counted())
		}
		if strings.HasPrefix(tag.String(), "tag(") {
			t.Errorf("%d has no name", tag)
		}
	}
	if Tag(0).Valid() || tagLimit.Valid() {
		t.Error("out-of-range tags must be invalid")
	}
	if TagLoadReport.Counted() || TagQuiescencePoll.Counted() {
		t.Error("control-only tags must not be counted")
	}
}

func TestControlMessages(t *testing.T) {
	rep := NewLoadReport(ScopeWorker, 0, problem.Minimize.Worst())
	data, err := Marshal(rep)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got LoadReport
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.BoundUnder(problem.Minimize) != problem.Minimize.Worst() {
		t.Errorf("empty report bound = %v, want +Inf", got.BoundUnder(problem.Minimize))
	}

	ctl := WorkerControl{Op: WorkerRelease, ID: problem.ID{Creator: 2, Serial: 5}, Target: 6}
	data, _ = Marshal(ctl)
	var back WorkerControl
	if err := Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != ctl {
		t.Errorf("WorkerControl = %+v, want %+v", back, ctl)
	}

	if err := Unmarshal([]byte("{not json"), &back); !errors.IsFatal(err) {
		t.Errorf("malformed control message err = %v, want fatal", err)
	}
}
