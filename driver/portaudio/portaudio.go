// Package portaudio drives the graph from the default audio device.
package portaudio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"pipelined.dev/audiograph/driver"
)

// Device is an open default device stream. Graph is rendered from the
// stream callback.
type Device struct {
	callback *driver.Callback
	stream   *portaudio.Stream
	log      logrus.FieldLogger
}

// Config of the device stream.
type Config struct {
	SampleRate float64
	BlockSize  int
	NumInputs  int
	NumOutputs int
}

// Open initializes portaudio and opens default stream. Device must be
// closed to release portaudio.
func Open(g driver.Renderer, cfg Config, log logrus.FieldLogger) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	d := Device{
		callback: driver.NewCallback(g, cfg.NumInputs, cfg.NumOutputs, cfg.BlockSize),
		log:      log,
	}
	stream, err := portaudio.OpenDefaultStream(cfg.NumInputs, cfg.NumOutputs, cfg.SampleRate, cfg.BlockSize, d.callback.Process)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open default stream: %w", err)
	}
	d.stream = stream
	log.WithFields(logrus.Fields{
		"sampleRate": cfg.SampleRate,
		"blockSize":  cfg.BlockSize,
		"inputs":     cfg.NumInputs,
		"outputs":    cfg.NumOutputs,
	}).Debug("device opened")
	return &d, nil
}

// Start starts the stream.
func (d *Device) Start() error {
	return d.stream.Start()
}

// Stop stops the stream. Callback is not called after Stop returns.
func (d *Device) Stop() error {
	return d.stream.Stop()
}

// SampleTime returns number of samples rendered by the device.
func (d *Device) SampleTime() int64 {
	return d.callback.SampleTime()
}

// Close closes the stream and terminates portaudio.
func (d *Device) Close() error {
	if err := d.stream.Close(); err != nil {
		return err
	}
	d.log.WithField("samples", d.SampleTime()).Debug("device closed")
	return portaudio.Terminate()
}
