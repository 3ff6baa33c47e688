//go:build integration

package test

import (
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastefleet/app"
	"github.com/kilianp07/wastefleet/config"
	"github.com/kilianp07/wastefleet/core/bucket"
	"github.com/kilianp07/wastefleet/infra/mqtt"
	"github.com/kilianp07/wastefleet/test/util"
)

func connectDevice(t *testing.T, broker, id string) paho.Client {
	t.Helper()
	cli := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID(id))
	token := cli.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { cli.Disconnect(100) })
	return cli
}

func publish(t *testing.T, cli paho.Client, topic string, retained bool, payload string) {
	t.Helper()
	token := cli.Publish(topic, 1, retained, payload)
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
}

func TestSensorToDriverOverMosquitto(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	broker, cleanup, err := util.StartMosquitto(ctx)
	require.NoError(t, err)
	defer cleanup()

	// The driver announces itself before the service starts; the retained
	// message must still reach the presence directory.
	driver := connectDevice(t, broker, "driver-d1")
	publish(t, driver, "drivers/d1/presence", true, `{"available":true}`)

	var (
		mu          sync.Mutex
		assignments []mqtt.Assignment
	)
	token := driver.Subscribe("drivers/d1/collections", 1, func(_ paho.Client, m paho.Message) {
		var a mqtt.Assignment
		if json.Unmarshal(m.Payload(), &a) == nil {
			mu.Lock()
			assignments = append(assignments, a)
			mu.Unlock()
		}
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	cfg := &config.Config{}
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = broker
	cfg.MQTT.ClientID = "wastefleet-it"
	cfg.Jobs.SweepSchedule = "off"
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	svc, err := app.New(cfg)
	require.NoError(t, err)
	defer svc.Close()

	up, err := svc.Buckets.Create(ctx, bucket.CreateInput{BucketID: "424242", Name: "Harbour", UserID: "u1", Capacity: 120})
	require.NoError(t, err)

	// Sensor subscriptions are made in Run.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = svc.Run(runCtx) }()

	sensor := connectDevice(t, broker, "sensor-424242")
	require.NoError(t, util.Eventually(ctx, func() bool {
		publish(t, sensor, "bins/424242/fill", false, `{"fill_percentage":93}`)
		mu.Lock()
		defer mu.Unlock()
		return len(assignments) > 0
	}))

	mu.Lock()
	a := assignments[0]
	mu.Unlock()
	assert.Equal(t, up.Bucket.ID, a.BucketID)

	b, err := svc.Buckets.Get(ctx, up.Bucket.ID)
	require.NoError(t, err)
	assert.True(t, b.IsAssigned)
	assert.Equal(t, 93.0, b.FillPercentage)

	req, err := svc.Coordinator.MarkCollected(ctx, a.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "d1", req.DriverID)
}
