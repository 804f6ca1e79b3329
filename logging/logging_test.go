package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHandlerLoggerRespectsLevel(t *testing.T) {
	var got []Entry
	l := New(INFO, func(e Entry) { got = append(got, e) })

	l.Log(NewEntry(DEBUG, "too quiet"))
	l.Log(NewEntry(INFO, "just right"))
	l.Log(NewEntry(ERROR, "loud"))

	assert.Len(t, got, 2)
	assert.Equal(t, "just right", got[0].Message)
	assert.Equal(t, "loud", got[1].Message)
}

func TestEnabled(t *testing.T) {
	l := New(ERROR, nil)
	assert.False(t, l.Enabled(INFO))
	assert.True(t, l.Enabled(ERROR))
}

func TestZerologHandler(t *testing.T) {
	var buf bytes.Buffer
	z := zerolog.New(&buf)
	h := NewZerologHandler(z)

	l := New(DEBUG, h)
	l.Log(NewEntry(INFO, "hello", map[string]interface{}{"channel": "a"}))

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "\"channel\":\"a\"")
}
