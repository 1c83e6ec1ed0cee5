//////////////////////////////////////////////////////////////////////////////
//
// Config contains configuration data for a broadcast Session
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package golive

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/golive/internal/encoder"
	"github.com/lanikai/golive/internal/flow"
	"github.com/lanikai/golive/internal/media"
	"github.com/lanikai/golive/internal/supervisor"
	"github.com/lanikai/golive/internal/transport"
)

type Config struct {
	// Base URL of the ingest service. The websocket scheme follows it:
	// https and wss give wss, http and ws give ws.
	URL string `yaml:"url"`

	// Opaque key naming the broadcast on the ingest service.
	StreamKey string `yaml:"stream_key"`

	// Path under which stream keys live (default: /live).
	PathPrefix string `yaml:"path_prefix"`

	// Optional bearer token for the websocket handshake.
	Token string `yaml:"token"`

	// Frame rate announced in the meta frame.
	FPS int `yaml:"fps"`

	// Device tracks to acquire.
	Constraints media.Constraints `yaml:"constraints"`

	ChunkInterval time.Duration `yaml:"chunk_interval"`

	// Overflow buffer capacity, in chunks.
	QueueLimit int `yaml:"queue_limit"`

	flow.Thresholds     `yaml:",inline"`
	ResumeCheckInterval time.Duration `yaml:"resume_check_interval"`

	Reconnect      supervisor.ReconnectPolicy `yaml:"reconnect"`
	ConnectTimeout time.Duration              `yaml:"connect_timeout"`
	PingInterval   time.Duration              `yaml:"ping_interval"`
}

func DefaultConfig() Config {
	return Config{
		PathPrefix:          transport.DefaultPathPrefix,
		FPS:                 30,
		Constraints:         media.Constraints{Audio: true, Video: true},
		ChunkInterval:       encoder.DefaultInterval,
		QueueLimit:          flow.DefaultQueueLimit,
		Thresholds:          flow.DefaultThresholds(),
		ResumeCheckInterval: flow.DefaultResumeCheckInterval,
		Reconnect:           supervisor.DefaultPolicy(),
		ConnectTimeout:      transport.DefaultConnectTimeout,
		PingInterval:        transport.DefaultPingInterval,
	}
}

// Validate checks that c describes a usable session.
func (c *Config) Validate() error {
	switch {
	case c.URL == "":
		return ErrNoURL
	case c.StreamKey == "":
		return ErrNoStreamKey
	case c.FPS <= 0:
		return errors.Wrapf(ErrInvalidConfig, "fps %d", c.FPS)
	case c.ChunkInterval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "chunk interval %v", c.ChunkInterval)
	case c.QueueLimit < 1:
		return errors.Wrapf(ErrInvalidConfig, "queue limit %d", c.QueueLimit)
	case c.ResumeCheckInterval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "resume check interval %v", c.ResumeCheckInterval)
	case c.Reconnect.MaxAttempts < 0:
		return errors.Wrapf(ErrInvalidConfig, "max reconnect attempts %d", c.Reconnect.MaxAttempts)
	case c.Reconnect.BaseDelay <= 0:
		return errors.Wrapf(ErrInvalidConfig, "reconnect delay %v", c.Reconnect.BaseDelay)
	case c.ConnectTimeout <= 0:
		return errors.Wrapf(ErrInvalidConfig, "connect timeout %v", c.ConnectTimeout)
	case c.PingInterval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "ping interval %v", c.PingInterval)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if _, err := c.ingestURL(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

func (c *Config) ingestURL() (string, error) {
	return transport.IngestURL(c.URL, c.PathPrefix, c.StreamKey)
}

// LoadConfig reads a YAML file over the defaults. The result is not
// validated, so that command line flags can still fill it in.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
