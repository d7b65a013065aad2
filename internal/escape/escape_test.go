package escape_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sabouaram/conserverd/internal/escape"
)

func TestParsePassesPlainTextThrough(t *testing.T) {
	p := escape.NewParser()
	out, events := p.Parse([]byte("hello world"))
	assert.Equal(t, []byte("hello world"), out)
	assert.Empty(t, events)
}

func TestParseRecognizesDetach(t *testing.T) {
	p := escape.NewParser()
	out, events := p.Parse([]byte("hi&."))
	assert.Equal(t, []byte("hi"), out)
	assert.Equal(t, []escape.Event{{Cmd: escape.CmdDetach}}, events)
}

func TestParseRecognizesSuspendBroadcastReset(t *testing.T) {
	p := escape.NewParser()
	out, events := p.Parse([]byte("&s&b&r"))
	assert.Empty(t, out)
	assert.Equal(t, []escape.Event{
		{Cmd: escape.CmdSuspendToggle},
		{Cmd: escape.CmdBroadcastToggle},
		{Cmd: escape.CmdReset},
	}, events)
}

func TestParseDoubledEscapeCharIsLiteral(t *testing.T) {
	p := escape.NewParser()
	out, events := p.Parse([]byte("a&&b"))
	assert.Equal(t, []byte("a&b"), out)
	assert.Empty(t, events)
}

func TestParseUnknownEscapePassesBothBytes(t *testing.T) {
	p := escape.NewParser()
	out, events := p.Parse([]byte("a&zb"))
	assert.Equal(t, []byte("a&zb"), out)
	assert.Empty(t, events)
}

func TestParseSplitAcrossCalls(t *testing.T) {
	p := escape.NewParser()
	out1, events1 := p.Parse([]byte("hi&"))
	out2, events2 := p.Parse([]byte(".bye"))

	assert.Equal(t, []byte("hi"), out1)
	assert.Empty(t, events1)
	assert.Equal(t, []byte("bye"), out2)
	assert.Equal(t, []escape.Event{{Cmd: escape.CmdDetach}}, events2)
}
