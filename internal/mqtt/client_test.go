package mqtt

import (
	"testing"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathTopic(t *testing.T) {
	cfg := &config.Config{
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "n",
			PortalId:  "aurora",
		},
		Device: config.DeviceConfig{Instance: 0},
	}
	c := CreateClient(cfg, OptsFromConfig(cfg), nil)

	assert.Equal(t, "n/aurora/pvinverter/0/Ac/Power", c.PathTopic("/Ac/Power"))
	assert.Equal(t, "n/aurora/pvinverter/0/Ac/L1/Energy/Forward", c.PathTopic("/Ac/L1/Energy/Forward"))
}

func TestValuePayload(t *testing.T) {
	payload, err := ValuePayload(42.5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": 42.5}`, payload)

	payload, err = ValuePayload(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": null}`, payload)
}
