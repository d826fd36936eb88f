package auditlog

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/bookrelay/bookrelay/internal/bookrelay/eventbus"
)

func TestAuditorRecordsEvents(t *testing.T) {
	bus := eventbus.New()
	var buf bytes.Buffer
	a := New(bus, &buf)
	a.Start()

	bus.PublishSession(eventbus.SessionEvent{SessionID: "s1", Kind: eventbus.KindCreated, Train: "12127"})
	bus.PublishSession(eventbus.SessionEvent{SessionID: "s1", Kind: eventbus.KindCompleted, PNR: "4512345678"})
	bus.PublishSession(eventbus.SessionEvent{SessionID: "s2", Kind: eventbus.KindFailed, Reason: "no seats"})
	bus.Publish("session.s3.created", "not an event")
	a.Stop()
	a.Stop()

	var lines []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 4)

	assert.Equal(t, "s1", gjson.Get(lines[0], "session_id").String())
	assert.Equal(t, "created", gjson.Get(lines[0], "event").String())
	assert.Equal(t, "12127", gjson.Get(lines[0], "train").String())
	assert.Equal(t, "audit", gjson.Get(lines[0], "stream").String())
	assert.Equal(t, "info", gjson.Get(lines[0], "level").String())

	assert.Equal(t, "4512345678", gjson.Get(lines[1], "pnr").String())

	assert.Equal(t, "warn", gjson.Get(lines[2], "level").String())
	assert.Equal(t, "no seats", gjson.Get(lines[2], "reason").String())

	assert.Equal(t, "unexpected event payload", gjson.Get(lines[3], "message").String())
}

func TestStopWithoutStart(t *testing.T) {
	a := New(eventbus.New(), &bytes.Buffer{})
	a.Stop()
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.log")
	w, err := OpenFile(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = OpenFile(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("again\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\nagain\n", string(data))

	stdout, err := OpenFile("")
	require.NoError(t, err)
	assert.NoError(t, stdout.Close())
}
