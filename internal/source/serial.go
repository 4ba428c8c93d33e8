// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/clock"
)

// SerialEMSource reads ASCII pose lines streamed by the EM tracker and
// serves the latest one, stamped with its arrival time.
type SerialEMSource struct {
	port   io.ReadCloser
	now    clock.Now
	logger *zap.Logger

	mx     sync.Mutex
	latest Sample
	have   bool
	err    error

	done chan struct{}
}

// OpenSerialEMSource opens the tracker's serial port (8N1) and starts reading.
func OpenSerialEMSource(portName string, baud int, logger *zap.Logger) (*SerialEMSource, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open EM serial port %s: %w", portName, err)
	}
	if logger != nil {
		logger.Info("EM serial port opened", zap.String("port", portName), zap.Int("baud", baud))
	}
	return NewSerialEMSource(port, nil, logger), nil
}

// NewSerialEMSource reads pose lines from port until it fails or is closed.
func NewSerialEMSource(port io.ReadCloser, now clock.Now, logger *zap.Logger) *SerialEMSource {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SerialEMSource{
		port:   port,
		now:    now,
		logger: logger.Named("em_serial"),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *SerialEMSource) read() {
	defer close(s.done)

	reader := bufio.NewReader(s.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			s.mx.Lock()
			s.err = err
			s.mx.Unlock()
			if err != io.EOF {
				s.logger.Warn("EM serial read failed", zap.Error(err))
			}
			return
		}

		line = strings.TrimSpace(line)
		// Trackers interleave status lines starting with '#'.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		s.mx.Lock()
		s.latest = Sample{Timestamp: clock.Seconds(s.now()), Payload: line}
		s.have = true
		s.mx.Unlock()
	}
}

// Next returns the most recent pose line. Once the port has failed the
// read error is returned instead.
func (s *SerialEMSource) Next() (Sample, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.err != nil {
		return Sample{}, fmt.Errorf("EM serial: %w", s.err)
	}
	if !s.have {
		return Sample{}, ErrNoSample
	}
	return s.latest, nil
}

// Close closes the port and waits for the reader to stop.
func (s *SerialEMSource) Close() error {
	err := s.port.Close()
	<-s.done
	return err
}
