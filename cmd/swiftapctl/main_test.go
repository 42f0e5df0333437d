package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyNdicateFoundation/swiftap"
	"github.com/SyNdicateFoundation/swiftap/loopback"
	"github.com/SyNdicateFoundation/swiftap/swiftconfig"
)

func testManager(t *testing.T) (*swiftap.Manager, *loopback.Driver) {
	t.Helper()
	d := loopback.New(nil)
	m, err := swiftap.NewManager(nil, swiftap.WithDriver(d))
	require.NoError(t, err)
	return m, d
}

func TestRunUsage(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"bogus"},
		{"info"},
		{"set-ip", "TAP", "10.0.0.1"},
		{"list", "extra"},
		{"rename", "TAP"},
		{"-nope"},
	} {
		var stderr bytes.Buffer
		err := run(args, io.Discard, &stderr)
		assert.ErrorIs(t, err, errUsage, strings.Join(args, " "))
		assert.Contains(t, stderr.String(), "usage: swiftapctl", strings.Join(args, " "))
	}
}

func TestRunBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swiftap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mtu:\n  min: 10\n"), 0o600))

	err := run([]string{"-config", path, "list"}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewLoggerRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swiftap.log")
	log, closeLog, err := newLogger(swiftconfig.LogFile{Path: path, Level: "debug", MaxSizeMB: 1}, io.Discard)
	require.NoError(t, err)

	log.Debug("adapter opened", "name", "TAP 1")
	closeLog()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `msg="adapter opened" name="TAP 1"`)

	_, _, err = newLogger(swiftconfig.LogFile{Level: "loud"}, io.Discard)
	assert.Error(t, err)
}

func TestListAndInfo(t *testing.T) {
	m, d := testManager(t)
	id, err := d.Create("TAP 7")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, list(m, &out))
	assert.Equal(t, id.InstanceID+"\tTAP 7\n", out.String())

	out.Reset()
	require.NoError(t, info(m, "TAP 7", &out))
	assert.Contains(t, out.String(), "mtu:      1500\n")
	assert.Contains(t, out.String(), "version:  9.27\n")
	assert.Contains(t, out.String(), d.Instance("TAP 7").MAC().String())
}

func TestDumpStopsAfterLimit(t *testing.T) {
	m, d := testManager(t)
	_, err := d.Create("TAP Dump")
	require.NoError(t, err)

	frame := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00, 0xff, 0x11, 0x22, 0x33, 0x44,
		0x08, 0x06,
	}
	frame = append(frame, make([]byte, 46)...)
	inst := d.Instance("TAP Dump")
	require.True(t, inst.Inject(frame))
	require.True(t, inst.Inject(frame))

	var out bytes.Buffer
	require.NoError(t, dump(m, "TAP Dump", 2, &out, slog.New(slog.DiscardHandler)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "00:ff:11:22:33:44")

	// the adapter is released afterwards
	s, err := m.Open("TAP Dump")
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
