// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xworker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteFull(t *testing.T) {
	p, err := newPipe()
	require.NoError(t, err)
	defer p.close()

	payload := make([]byte, 70000)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- writeFull(p.w, payload)
	}()

	buf := make([]byte, len(payload))
	require.NoError(t, readFull(p.r, buf))
	require.NoError(t, <-done)
	assert.Equal(t, payload, buf)
}

func TestReadFullTimeoutRecoverable(t *testing.T) {
	p, err := newPipe()
	require.NoError(t, err)
	defer p.close()

	var buf [8]byte
	err = readFullTimeout(p.r, buf[:], 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsRecoverable(err))
}

func TestReadFullTimeoutMidRecordIsFatal(t *testing.T) {
	p, err := newPipe()
	require.NoError(t, err)
	defer p.close()

	_, err = p.w.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	var buf [8]byte
	err = readFullTimeout(p.r, buf[:], 20*time.Millisecond)
	require.Error(t, err)
	assert.False(t, IsRecoverable(err))
}

func TestReadFullClosedPipeIsFatal(t *testing.T) {
	p, err := newPipe()
	require.NoError(t, err)

	require.NoError(t, p.w.Close())
	p.w = nil

	var buf [4]byte
	err = readFull(p.r, buf[:])
	require.Error(t, err)
	assert.False(t, IsRecoverable(err))
	_ = p.r.Close()
}

func TestX11ErrorRecordRoundTrip(t *testing.T) {
	in := &X11Error{Sequence: 42, Code: 10, BadValue: 0xdeadbeef}
	out := decodeX11Error(encodeX11Error(in))
	assert.Equal(t, in, out)
}
