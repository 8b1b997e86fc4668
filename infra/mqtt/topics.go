package mqtt

import (
	"strings"

	"github.com/kilianp07/smartbattery/core/model"
)

const replySuffix = "_reply"

// Topics builds the topic names of one device.
type Topics struct {
	ProductKey string
	DeviceKey  string
}

func (t Topics) base() string {
	return "/sys/" + t.ProductKey + "/" + t.DeviceKey + "/thing/"
}

// Post is the measure point upload topic.
func (t Topics) Post() string { return t.base() + "measurepoint/post" }

// Service is the invocation topic of service name.
func (t Topics) Service(name string) string { return t.base() + "service/" + name }

// ServiceWildcard matches every single-level service topic.
func (t Topics) ServiceWildcard() string { return t.base() + "service/+" }

// MeasurepointSet is the measure point set topic.
func (t Topics) MeasurepointSet() string { return t.base() + "service/measurepoint/set" }

// Reply returns the reply topic for a request topic.
func Reply(topic string) string { return topic + replySuffix }

// IsReply reports whether topic carries a reply.
func IsReply(topic string) bool { return strings.HasSuffix(topic, replySuffix) }

// ParseServiceTopic extracts the target and service name from
// /sys/{pk}/{dk}/thing/service/{name}. Reply topics are rejected.
func ParseServiceTopic(topic string) (model.Target, string, bool) {
	if IsReply(topic) {
		return model.Target{}, "", false
	}
	parts := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	if len(parts) != 6 || parts[0] != "sys" || parts[3] != "thing" || parts[4] != "service" {
		return model.Target{}, "", false
	}
	if parts[1] == "" || parts[2] == "" || parts[5] == "" {
		return model.Target{}, "", false
	}
	return model.Target{ProductKey: parts[1], DeviceKey: parts[2]}, parts[5], true
}

// ParseMeasurepointSetTopic extracts the target of a measure point set topic.
func ParseMeasurepointSetTopic(topic string) (model.Target, bool) {
	parts := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	if len(parts) != 7 || parts[0] != "sys" || parts[3] != "thing" || parts[4] != "service" ||
		parts[5] != "measurepoint" || parts[6] != "set" {
		return model.Target{}, false
	}
	return model.Target{ProductKey: parts[1], DeviceKey: parts[2]}, true
}
