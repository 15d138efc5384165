package gateway

import (
	"context"
	"fmt"

	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/history"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// deviceFilters are subscribed first on every connection.
var deviceFilters = (mqtt.Topics{}).DeviceFilters()

// isDeviceFilter reports whether filter is one of the device channel
// filters.
func isDeviceFilter(filter string) bool {
	for _, f := range deviceFilters {
		if f == filter {
			return true
		}
	}
	return false
}

// handlerFor returns the message handler subscribed with filter.
//
// The transport calls the handler of every subscription matching a topic,
// so with overlapping filters one message arrives several times. Only the
// handler of the first matching filter, in subscribe order, routes it.
func (s *Session) handlerFor(filter string) mqtt.MessageHandler {
	return func(msgTopic string, payload []byte) error {
		if s.owner(msgTopic) != filter {
			return nil
		}
		return s.route(msgTopic, payload)
	}
}

// owner returns the first subscribed filter matching msgTopic.
func (s *Session) owner(msgTopic string) string {
	for _, f := range deviceFilters {
		if topic.Matches(msgTopic, f) {
			return f
		}
	}
	for _, f := range s.topics.List() {
		if topic.Matches(msgTopic, f) {
			return f
		}
	}
	return ""
}

// route is the handler for every subscribed filter.
//
// Flow:
//  1. A pending task response on the topic is resolved first
//  2. Device channel topics register the device, pass the admission gate,
//     then update presence
//  3. Any other topic goes to history (when subscribed) and the triggers
func (s *Session) route(msgTopic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, handlerTimeout)
	defer cancel()

	s.c.Correlator.Resolve(ctx, msgTopic, payload)

	if dt, ok := mqtt.ParseDeviceTopic(msgTopic); ok {
		return s.routeDevice(ctx, dt, msgTopic, payload)
	}

	s.addHistory(msgTopic, string(payload), history.In, false)
	s.c.Triggers.Process(ctx, msgTopic, payload)
	return nil
}

func (s *Session) routeDevice(ctx context.Context, dt mqtt.DeviceTopic, msgTopic string, payload []byte) error {
	server := s.Server()

	// Registration happens before admission so blocked devices still show
	// up as known and can be allow-listed.
	s.c.Tracker.Register(ctx, dt.DeviceID, dt.Location)
	if !s.c.Gate.IsAllowed(ctx, server, dt.DeviceID, dt.Location) {
		s.logger.Debug("device blocked by allow-list", "device", dt.DeviceID, "location", dt.Location)
		return nil
	}

	key := device.Key(dt.DeviceID, dt.Location)
	if s.topics.Matches(msgTopic) {
		s.addHistory(key, "Topic: "+msgTopic+"\n"+string(payload), history.In, true)
	}

	switch dt.Channel {
	case mqtt.ChannelPong:
		return s.c.Tracker.HandlePong(ctx, dt.DeviceID, dt.Location, payload)
	case mqtt.ChannelStatus:
		return s.c.Tracker.HandleStatus(ctx, dt.DeviceID, dt.Location, payload)
	case mqtt.ChannelConfig:
		if err := s.c.Tracker.HandleConfig(ctx, dt.DeviceID, dt.Location, payload); err != nil {
			s.addHistory(topic.Error, fmt.Sprintf("Invalid config from %s: %v", key, err), history.In, true)
			return err
		}
	}
	return nil
}

// addHistory appends to the message history when the title is a gateway
// pseudo-topic, matches a subscribed filter, or force is set. Every append
// broadcasts the new history.
func (s *Session) addHistory(title, payload string, dir history.Direction, force bool) {
	if !force && !topic.IsSystem(title) && !s.topics.Matches(title) {
		return
	}
	s.history.Add(title, payload, dir)
	s.hub.Broadcast(events.HistoryUpdate, s.history.Snapshot())
}
