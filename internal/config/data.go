package config

import (
	"errors"
	"time"
)

// DataPlaneConfig configures the gRPC engagement service.
type DataPlaneConfig struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port string `envconfig:"PORT" default:"50051"`

	MaxConcurrentStreams uint32 `envconfig:"MAX_CONCURRENT_STREAMS" default:"100"`

	// MaxRecvMsgBytes bounds an incoming request. Criteria overrides and
	// survey answers travel as structs, so the gRPC default is kept as floor.
	MaxRecvMsgBytes int `envconfig:"MAX_RECV_MSG_BYTES" default:"4194304" validate:"min=1024"`

	KeepaliveTime    time.Duration `envconfig:"KEEPALIVE_TIME" default:"120s"`
	KeepaliveTimeout time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"20s"`
	MaxConnectionAge time.Duration `envconfig:"MAX_CONNECTION_AGE" default:"300s"`

	// Reflection lets grpcurl inspect engage.v1.DataPlane without descriptors.
	Reflection bool `envconfig:"REFLECTION" default:"true"`
}

// Validate checks the data plane settings.
func (c *DataPlaneConfig) Validate() error {
	if err := validateHost(c.Host, "data plane"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "data plane"); err != nil {
		return err
	}
	if c.KeepaliveTimeout >= c.KeepaliveTime {
		return errors.New("data plane keepalive timeout must be shorter than keepalive time")
	}
	return nil
}
