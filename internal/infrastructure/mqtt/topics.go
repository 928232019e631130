package mqtt

import (
	"fmt"
	"strings"
)

// Fixed topic layout shared with the device fleet.
const (
	TopicPrefixDevices = "iot/devices"
	TopicAlerts        = "iot/alerts"
	TopicSystemStatus  = "iot/system/status"

	// TopicAllDeviceStatus and TopicAllDeviceData are the inbound wildcards.
	TopicAllDeviceStatus = TopicPrefixDevices + "/+/status"
	TopicAllDeviceData   = TopicPrefixDevices + "/+/data"
)

// Topics provides builders for relay MQTT topics.
//
//	topic := mqtt.Topics{}.DeviceControl("pump-01")
//	// Returns: "iot/devices/pump-01/control"
type Topics struct{}

// DeviceStatus returns the status topic for a device.
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixDevices, deviceID)
}

// DeviceData returns the sensor data topic for a device.
func (Topics) DeviceData(deviceID string) string {
	return fmt.Sprintf("%s/%s/data", TopicPrefixDevices, deviceID)
}

// DeviceControl returns the command topic a device listens on.
func (Topics) DeviceControl(deviceID string) string {
	return fmt.Sprintf("%s/%s/control", TopicPrefixDevices, deviceID)
}

// SystemStatus returns the relay's own online/offline topic.
func (Topics) SystemStatus() string {
	return TopicSystemStatus
}

// Alerts returns the topic devices publish alerts on.
func (Topics) Alerts() string {
	return TopicAlerts
}

// Inbound returns every topic pattern the relay subscribes to.
func (Topics) Inbound() []string {
	return []string{TopicAllDeviceStatus, TopicAllDeviceData, TopicAlerts, TopicSystemStatus}
}

// TopicKind classifies an inbound topic.
type TopicKind int

// Topic kinds understood by the router.
const (
	KindOther TopicKind = iota
	KindDeviceStatus
	KindDeviceData
	KindDeviceControl
	KindAlert
	KindSystemStatus
)

// String returns a short label, used in logs and metrics.
func (k TopicKind) String() string {
	switch k {
	case KindDeviceStatus:
		return "status"
	case KindDeviceData:
		return "data"
	case KindDeviceControl:
		return "control"
	case KindAlert:
		return "alert"
	case KindSystemStatus:
		return "system"
	default:
		return "other"
	}
}

// ParseTopic classifies topic and extracts the device id for device topics.
//
// A device topic with an empty id segment (iot/devices//data) is KindOther.
func ParseTopic(topic string) (TopicKind, string) {
	switch topic {
	case TopicAlerts:
		return KindAlert, ""
	case TopicSystemStatus:
		return KindSystemStatus, ""
	}

	rest, ok := strings.CutPrefix(topic, TopicPrefixDevices+"/")
	if !ok {
		return KindOther, ""
	}
	deviceID, leaf, ok := strings.Cut(rest, "/")
	if !ok || deviceID == "" || strings.Contains(leaf, "/") {
		return KindOther, ""
	}

	switch leaf {
	case "status":
		return KindDeviceStatus, deviceID
	case "data":
		return KindDeviceData, deviceID
	case "control":
		return KindDeviceControl, deviceID
	default:
		return KindOther, ""
	}
}
