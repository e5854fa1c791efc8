// Package mqtt provides the MQTT connection behind the console's realtime
// change feed.
//
// The console publishes a small change hint for every device row event on
// a per-owner topic and subscribes to the topics of owners that currently
// have a synchronizer running. Running several console instances against
// one broker therefore keeps every open session in step, whichever instance
// performed the write.
//
//	console A ──publish──▶ iotconsole/devices/{owner}/changes ──▶ console B
//
// This package manages:
//   - Connection to the broker with auto-reconnect and backoff
//   - Subscription tracking and restoration after reconnects
//   - A retained status topic with Last Will for crash detection
//   - Publishing with QoS and a 1MB payload cap
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.DeviceChanges(ownerID), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
