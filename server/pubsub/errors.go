package pubsub

import "fmt"

type noSubscriberError struct {
	EventID string
}

func (e noSubscriberError) Error() string {
	return fmt.Sprintf("no subscriber keeping up for event %s", e.EventID)
}

func (e noSubscriberError) NoSubscriber() bool {
	return true
}
