package transparency

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memory struct {
	accept map[string]bool
	got    map[string][]byte
}

func (m *memory) Accepts(key string) bool { return m.accept[key] }

func (m *memory) Accept(key, mime string, data []byte) error {
	if m.got == nil {
		m.got = make(map[string][]byte)
	}
	m.got[key] = data
	return nil
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	assert.False(t, l.Accepts("verdict"))
	assert.NoError(t, l.Log("verdict", 1))
	assert.Nil(t, FromContext(context.Background()))
}

func TestLoggerSkipsUnacceptedKeys(t *testing.T) {
	m := &memory{accept: map[string]bool{"estimates": true}}
	l := NewLogger(m)

	require.NoError(t, l.Log("estimates", []float64{1.5, 2}))
	require.NoError(t, l.Log("image1.embedding", []float32{1}))

	assert.Len(t, m.got, 1)
	var back []float64
	require.NoError(t, cbor.Unmarshal(m.got["estimates"], &back))
	assert.Equal(t, []float64{1.5, 2}, back)
}

func TestContextRoundTrip(t *testing.T) {
	l := NewLogger(&memory{})
	assert.Same(t, l, FromContext(WithLogger(context.Background(), l)))
}

func TestDirectorySession(t *testing.T) {
	root := t.TempDir()
	d := NewDirectory(root, []string{"verdict"})
	s := d.Session("req-1")
	l := NewLogger(s)

	require.NoError(t, l.Log("verdict", map[string]any{"score": 88.5}))
	require.NoError(t, l.Log("estimates", 1))

	data, err := os.ReadFile(filepath.Join(root, "req-1", "verdict.cbor"))
	require.NoError(t, err)
	var back map[string]float64
	require.NoError(t, cbor.Unmarshal(data, &back))
	assert.Equal(t, 88.5, back["score"])

	_, err = os.Stat(filepath.Join(root, "req-1", "estimates.cbor"))
	assert.True(t, os.IsNotExist(err))
}

func TestDirectoryWithoutFilterAcceptsAll(t *testing.T) {
	s := NewDirectory(t.TempDir(), nil).Session("../escape")
	assert.True(t, s.Accepts("anything"))
	assert.Equal(t, "escape", filepath.Base(s.Dir()))
}
