package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout under the configured prefix:
//
//	<prefix>/notification/<key>/state   inbound notification on/off + attributes
//	<prefix>/light/<entity>/state       inbound wrapped-light state reports
//	<prefix>/light/<entity>/set         outbound wrapped-light commands
//	<prefix>/<name>/set                 inbound virtual-light commands
type Topics struct {
	Prefix string
}

func (t Topics) NotificationStateFilter() string {
	return t.Prefix + "/notification/+/state"
}

func (t Topics) WrappedStateFilter() string {
	return t.Prefix + "/light/+/state"
}

func (t Topics) WrappedSet(entity string) string {
	return fmt.Sprintf("%s/light/%s/set", t.Prefix, entity)
}

func (t Topics) VirtualSet(name string) string {
	return fmt.Sprintf("%s/%s/set", t.Prefix, name)
}

// NotificationKey extracts the notification key from a state topic, or
// ok=false if the topic does not match the layout.
func (t Topics) NotificationKey(topic string) (string, bool) {
	return t.middleSegment(topic, "notification")
}

// WrappedEntity extracts the entity id from a wrapped state topic.
func (t Topics) WrappedEntity(topic string) (string, bool) {
	return t.middleSegment(topic, "light")
}

func (t Topics) middleSegment(topic, kind string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/"+kind+"/")
	if !ok {
		return "", false
	}
	seg, ok := strings.CutSuffix(rest, "/state")
	if !ok || seg == "" || strings.Contains(seg, "/") {
		return "", false
	}
	return seg, true
}
