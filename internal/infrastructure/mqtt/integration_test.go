//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	require.ErrorIs(t, err, ErrConnectionFailed)
}

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	client, err := Connect(testConfig())
	require.NoError(t, err)
	defer client.Close()

	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 1)

	err = client.Subscribe(Topics{}.AllCommands(), 1, func(topic string, payload []byte) error {
		mu.Lock()
		got = append(got, topic+" "+string(payload))
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, client.SubscriptionCount())

	require.NoError(t, client.Publish(Topics{}.Command(18), []byte(`{"state":"thrown"}`), 1, false))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, `xnetbridge/command/turnout/18 {"state":"thrown"}`, got[0])

	assert.NoError(t, client.Unsubscribe(Topics{}.AllCommands()))
}
