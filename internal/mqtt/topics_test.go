package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "colornotify"}

	if got := topics.NotificationStateFilter(); got != "colornotify/notification/+/state" {
		t.Errorf("NotificationStateFilter() = %q", got)
	}
	if got := topics.WrappedSet("light.desk"); got != "colornotify/light/light.desk/set" {
		t.Errorf("WrappedSet() = %q", got)
	}
	if got := topics.VirtualSet("desk"); got != "colornotify/desk/set" {
		t.Errorf("VirtualSet() = %q", got)
	}

	key, ok := topics.NotificationKey("colornotify/notification/notify.alert/state")
	if !ok || key != "notify.alert" {
		t.Errorf("NotificationKey() = %q, %v", key, ok)
	}
	entity, ok := topics.WrappedEntity("colornotify/light/light.desk/state")
	if !ok || entity != "light.desk" {
		t.Errorf("WrappedEntity() = %q, %v", entity, ok)
	}

	bad := []string{
		"colornotify/notification/state",
		"colornotify/notification//state",
		"other/notification/x/state",
		"colornotify/notification/a/b/state",
		"colornotify/notification/x/set",
	}
	for _, topic := range bad {
		if key, ok := topics.NotificationKey(topic); ok {
			t.Errorf("NotificationKey(%q) = %q, want no match", topic, key)
		}
	}
}
