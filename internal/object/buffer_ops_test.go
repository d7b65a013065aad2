package object_test

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sabouaram/conserverd/internal/object"
)

func TestWriteObjDataDoublesIACOnUpTelnet(t *testing.T) {
	dst := object.New("alpha", object.VariantTelnet, 64)
	dst.Telnet = &object.TelnetAux{State: object.TelnetUp}

	n := object.WriteObjData(dst, []byte{0x41, object.IAC, 0x42}, false)
	assert.Equal(t, 3, n, "n reflects input bytes accepted, not bytes stored")
	assert.Equal(t, []byte{0x41, object.IAC, object.IAC, 0x42}, dst.Ring.Peek(8))
}

func TestWriteObjDataLiteralSkipsDoubling(t *testing.T) {
	dst := object.New("alpha", object.VariantTelnet, 64)
	dst.Telnet = &object.TelnetAux{State: object.TelnetUp}

	object.WriteObjData(dst, []byte{object.IAC, 0x42}, true)
	assert.Equal(t, []byte{object.IAC, 0x42}, dst.Ring.Peek(8))
}

func TestFanOutDetachesAfterOverflowBudget(t *testing.T) {
	src := object.New("alpha", object.VariantTelnet, 64)
	slow := object.New("client1", object.VariantClient, 2) // tiny ring forces overflow
	slow.Client = &object.ClientAux{}
	src.AddReader(slow)

	var overflowed []*object.Object
	for i := 0; i < object.MaxOverflowStrikes; i++ {
		overflowed = object.FanOut(src, []byte("abcdef"), true)
	}

	assert.Len(t, overflowed, 1)
	assert.Equal(t, slow.ID, overflowed[0].ID)
}

func TestFanOutResetsStrikesOnCleanWrite(t *testing.T) {
	src := object.New("alpha", object.VariantTelnet, 64)
	dst := object.New("client1", object.VariantClient, 64)
	dst.Client = &object.ClientAux{OverflowStrikes: 3}
	src.AddReader(dst)

	object.FanOut(src, []byte("ok"), true)
	assert.Equal(t, 0, dst.Client.OverflowStrikes)
}

func TestReadFromObjReturnsMinusOneOnEOFWithEmptyBuffer(t *testing.T) {
	obj := object.New("c1", object.VariantClient, 64)
	obj.Client = &object.ClientAux{}

	readFn := func(p []byte) (int, error) { return 0, errors.New("eof") }
	n := object.ReadFromObj(obj, make([]byte, 16), readFn, nil, true)

	assert.Equal(t, -1, n)
	assert.True(t, obj.GotEOF)
}

func TestReadFromObjIgnoresEAGAIN(t *testing.T) {
	obj := object.New("c1", object.VariantClient, 64)
	obj.Client = &object.ClientAux{}

	readFn := func(p []byte) (int, error) { return 0, syscall.EAGAIN }
	n := object.ReadFromObj(obj, make([]byte, 16), readFn, nil, true)

	assert.Equal(t, 0, n)
	assert.False(t, obj.GotEOF)
}

func TestReadFromObjFansOutDecodedBytes(t *testing.T) {
	src := object.New("alpha", object.VariantTelnet, 64)
	src.Telnet = &object.TelnetAux{State: object.TelnetUp}
	dst := object.New("client1", object.VariantClient, 64)
	dst.Client = &object.ClientAux{}
	src.AddReader(dst)

	readFn := func(p []byte) (int, error) {
		copy(p, "hello\n")
		return 6, nil
	}
	n := object.ReadFromObj(src, make([]byte, 16), readFn, nil, true)

	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("hello\n"), dst.Ring.Peek(16))
}

func TestWriteToObjAdvancesOutCursor(t *testing.T) {
	obj := object.New("alpha", object.VariantTelnet, 64)
	obj.Ring.Write([]byte("hello"))

	var written []byte
	writeFn := func(p []byte) (int, error) {
		written = append(written, p...)
		return len(p), nil
	}

	n := object.WriteToObj(obj, writeFn)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), written)
	assert.True(t, obj.Ring.Empty())
}

func TestWriteToObjReturnsMinusOneOnFatalError(t *testing.T) {
	obj := object.New("alpha", object.VariantTelnet, 64)
	obj.Ring.Write([]byte("hello"))

	writeFn := func(p []byte) (int, error) { return 0, errors.New("broken pipe") }

	n := object.WriteToObj(obj, writeFn)
	assert.Equal(t, -1, n)
}
