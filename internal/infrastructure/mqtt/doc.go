// Package mqtt connects the relay to the device fleet's MQTT broker.
//
// Topic layout:
//
//	iot/devices/{id}/status   device → relay   presence/status snapshot
//	iot/devices/{id}/data     device → relay   sensor readings
//	iot/devices/{id}/control  relay  → device  commands
//	iot/alerts                device → relay   alerts
//	iot/system/status         relay  → all     relay online/offline (retained, LWT)
//
// The client is configured for ordered delivery, so handlers run serially
// on paho's router goroutine. Handlers must not block; the router hands
// anything slow to the engine queue.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.SubscribeAll(mqtt.Topics{}.Inbound(), client.QoS(), router.HandleMessage)
//
// Tests that need a broker live behind the integration build tag.
package mqtt
