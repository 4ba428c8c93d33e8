// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockCameraSource(t *testing.T) {
	now := time.Unix(1700000000, 500_000_000)
	src := NewMockCameraSource(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		s, err := src.Next()
		require.NoError(t, err)
		assert.Equal(t, 1700000000.5, s.Timestamp)
		assert.Equal(t, "depth_"+strconv.Itoa(i)+".npy, color_"+strconv.Itoa(i)+".png", s.Payload)
	}
}

func TestMockEMSource(t *testing.T) {
	base := time.Unix(100, 0)
	now := base
	src := NewMockEMSource(func() time.Time { return now })

	s, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.Timestamp)
	assert.Equal(t, Pose{X: 0, Y: 80, Z: 150, Roll: 0, Pitch: 15, Yaw: 0}.String(), s.Payload)

	now = base.Add(2 * time.Second)
	s, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, 102.0, s.Timestamp)
	fields := strings.Split(s.Payload, ",")
	require.Len(t, fields, 6)
	yaw, err := strconv.ParseFloat(fields[5], 64)
	require.NoError(t, err)
	assert.InDelta(t, 60, yaw, 1e-3)
}

func TestSerialEMSource(t *testing.T) {
	r, w := io.Pipe()
	src := NewSerialEMSource(r, func() time.Time { return time.Unix(42, 0) }, nil)

	_, err := src.Next()
	assert.ErrorIs(t, err, ErrNoSample)

	_, err = io.WriteString(w, "# tracker ready\r\n\r\n1.0,2.0,3.0,0,0,90\r\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := src.Next()
		return err == nil && s.Payload == "1.0,2.0,3.0,0,0,90"
	}, time.Second, 5*time.Millisecond)

	s, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, 42.0, s.Timestamp)

	require.NoError(t, w.Close())
	require.Eventually(t, func() bool {
		_, err := src.Next()
		return err != nil && err != ErrNoSample
	}, time.Second, 5*time.Millisecond)

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
}
