package config

import (
	_ "embed"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

//go:embed default/config.yaml
var defaultConfigData []byte

const (
	ConfigurationName = "config.yaml"
	AppLogName        = "app.log"
)

type Configuration struct {
	configFs afero.Fs

	// BindAddress is the address every listener binds to.
	BindAddress string `json:"bind_address" validate:"required"`

	// Ports to serve on, one listener per port.
	Ports []int `json:"ports" validate:"required,min=1,unique,dive,gte=1,lte=65535"`

	// Redis holds the address of the Redis instance publishing changes,
	// either host:port or a redis:// URL.
	Redis string `json:"redis" validate:"required"`

	// Pattern is the Redis channel pattern carrying recent changes.
	Pattern string `json:"pattern" validate:"required"`

	// StreamPath is the HTTP path of the WebSocket endpoint.
	StreamPath string `json:"stream_path" validate:"required,startswith=/"`

	// MaxSubscriptions caps the wikis a single client may subscribe to.
	MaxSubscriptions int `json:"max_subscriptions" validate:"gte=1"`

	// MaxMessageRate caps client control messages per second.
	MaxMessageRate float64 `json:"max_message_rate" validate:"gt=0"`

	// WriteBuffer is the number of outbound frames buffered per client
	// before the client is considered stalled and dropped.
	WriteBuffer int `json:"write_buffer" validate:"gte=1"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

// Addrs returns one listen address per configured port.
func (c *Configuration) Addrs() []string {
	var out []string
	for _, port := range c.Ports {
		out = append(out, net.JoinHostPort(c.BindAddress, strconv.Itoa(port)))
	}
	return out
}

func (c *Configuration) fs() afero.Fs {
	return c.configFs
}

// OpenAppLog opens the application event log in an append only state.
func (c *Configuration) OpenAppLog() (afero.File, error) {
	return c.fs().OpenFile(AppLogName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

func (c *Configuration) ReadAppLog() (afero.File, error) {
	return c.fs().OpenFile(AppLogName, os.O_RDONLY, 0600)
}

// ParsePorts parses a comma-separated port list like "10080,10081".
func ParsePorts(list string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		port, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", field, err)
		}
		out = append(out, port)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no ports in list %q", list)
	}
	return out, nil
}

// ParseAddress splits a host:port address.
func ParseAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}
