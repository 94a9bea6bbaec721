package config

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v2"
)

func TestBuiltinConfig(t *testing.T) {
	rawConfig := make(map[string]interface{})
	assert.Nil(t, yaml.Unmarshal(defaultConfigData, &rawConfig))

	knownFields := make(map[string]bool)
	rt := reflect.TypeOf(Configuration{})
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		assert.NotEmpty(t, jsonTag)
		jsonField := strings.Split(jsonTag, ",")[0]
		knownFields[jsonField] = true

		if _, ok := rawConfig[jsonField]; !ok {
			assert.False(t, true, "default config missing field: %q", jsonField)
		}
	}

	for k := range rawConfig {
		_, ok := knownFields[k]
		assert.True(t, ok, "default config contains invalid field: %q", k)
	}
}

func TestDefaultConfig(t *testing.T) {
	// Will panic() on load failure because it should never happen at runtime.
	cfg := defaultConfig()
	assert.NotNil(t, cfg)
	assert.Nil(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate  func(c *Configuration)
		wantErr bool
	}{
		"default ok": {
			mutate: func(c *Configuration) {},
		},
		"no ports": {
			mutate:  func(c *Configuration) { c.Ports = nil },
			wantErr: true,
		},
		"port out of range": {
			mutate:  func(c *Configuration) { c.Ports = []int{70000} },
			wantErr: true,
		},
		"duplicate ports": {
			mutate:  func(c *Configuration) { c.Ports = []int{10080, 10080} },
			wantErr: true,
		},
		"missing redis": {
			mutate:  func(c *Configuration) { c.Redis = "" },
			wantErr: true,
		},
		"relative stream path": {
			mutate:  func(c *Configuration) { c.StreamPath = "rc" },
			wantErr: true,
		},
		"zero message rate": {
			mutate:  func(c *Configuration) { c.MaxMessageRate = 0 },
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.NotNil(t, err)
			} else {
				assert.Nil(t, err)
			}
		})
	}
}

func TestAddrs(t *testing.T) {
	cfg := defaultConfig()
	cfg.BindAddress = "10.0.0.1"
	cfg.Ports = []int{10080, 10081}

	assert.Equal(t, []string{"10.0.0.1:10080", "10.0.0.1:10081"}, cfg.Addrs())
}

func TestParsePorts(t *testing.T) {
	ports, err := ParsePorts("10080,10081, 10082")
	assert.Nil(t, err)
	assert.Equal(t, []int{10080, 10081, 10082}, ports)

	_, err = ParsePorts("10080,broken")
	assert.NotNil(t, err)

	_, err = ParsePorts("")
	assert.NotNil(t, err)
}

func TestParseAddress(t *testing.T) {
	host, port, err := ParseAddress("example.org:10080")
	assert.Nil(t, err)
	assert.Equal(t, "example.org", host)
	assert.Equal(t, 10080, port)

	_, _, err = ParseAddress("no-port")
	assert.NotNil(t, err)
}
