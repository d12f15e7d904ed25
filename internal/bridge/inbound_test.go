package bridge

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/codec"
	"github.com/nerrad567/mqtt-bridge/internal/msgs"
	"github.com/nerrad567/mqtt-bridge/internal/topic"
)

func inboundSpec(t *testing.T, typ, from, to string) Spec {
	return Spec{Factory: FactoryInbound, Type: lookup(t, typ), TopicFrom: from, TopicTo: to, QoS: 1}
}

// collect subscribes to a local topic and returns a snapshot function.
func collect[T any](t *testing.T, deps Deps, localTopic, typ string) func() []T {
	t.Helper()
	var mu sync.Mutex
	var got []T
	_, err := deps.Bus.Subscribe(localTopic, lookup(t, typ), func(msg any) {
		mu.Lock()
		got = append(got, *msg.(*T))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe(%q) error = %v", localTopic, err)
	}
	return func() []T {
		mu.Lock()
		defer mu.Unlock()
		return append([]T(nil), got...)
	}
}

func TestInbound_DeliversDecodedMessage(t *testing.T) {
	deps, _, conn := testDeps(t, "fleet/robot7")
	received := collect[msgs.Twist](t, deps, "/cmd_vel", "geometry_msgs/Twist")

	b, err := NewRegistry().Create(1, Descriptor{
		Factory:   "mqtt_bridge.bridge:MqttToRosBridge",
		MsgType:   "geometry_msgs/msg/Twist",
		TopicFrom: "~/cmd_vel",
		TopicTo:   "/cmd_vel",
	}, deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer b.Close()

	info := b.Info()
	if info.Direction != Inbound || info.Source != "fleet/robot7/cmd_vel" {
		t.Fatalf("Info() = %+v", info)
	}

	conn.SimulateMessage("fleet/robot7/cmd_vel", []byte(`{"linear":{"x":0.5},"angular":{"z":-1}}`))
	waitFor(t, func() bool { return len(received()) == 1 })

	got := received()[0]
	if got.Linear.X != 0.5 || got.Angular.Z != -1 {
		t.Errorf("received %+v", got)
	}
	if s := b.Stats(); s.Received != 1 || s.Published != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestInbound_RoundTripWithOutbound(t *testing.T) {
	deps, bus, conn := testDeps(t, "fleet/robot7")
	deps.Codec = codec.MsgPack()
	echoed := collect[msgs.Pose](t, deps, "/pose_echo", "Pose")

	reg := NewRegistry()
	out, err := reg.Create(0, Descriptor{Factory: "ros_to_mqtt", MsgType: "Pose", TopicFrom: "/pose", TopicTo: "~/pose"}, deps)
	if err != nil {
		t.Fatalf("Create(out) error = %v", err)
	}
	defer out.Close()
	in, err := reg.Create(1, Descriptor{Factory: "mqtt_to_ros", MsgType: "Pose", TopicFrom: "~/pose", TopicTo: "/pose_echo"}, deps)
	if err != nil {
		t.Fatalf("Create(in) error = %v", err)
	}
	defer in.Close()

	pose := &msgs.Pose{Position: msgs.Point{X: 1, Y: 2, Z: 3}, Orientation: msgs.Quaternion{W: 1}}
	_ = bus.Publish("/pose", lookup(t, "Pose"), pose)
	waitFor(t, func() bool { return len(conn.GetPublished()) == 1 })

	p := conn.GetPublished()[0]
	conn.SimulateMessage(p.Topic, p.Payload)
	waitFor(t, func() bool { return len(echoed()) == 1 })

	if echoed()[0] != *pose {
		t.Errorf("echoed %+v, want %+v", echoed()[0], *pose)
	}
}

func TestInbound_CodecErrorThenValid(t *testing.T) {
	deps, _, conn := testDeps(t, "")
	received := collect[msgs.String](t, deps, "/out", "String")
	logger := deps.Logger.(*mockLogger)

	b, err := NewInbound(inboundSpec(t, "String", "in", "/out"), deps)
	if err != nil {
		t.Fatalf("NewInbound() error = %v", err)
	}
	defer b.Close()

	conn.SimulateMessage("in", []byte("{not json"))
	conn.SimulateMessage("in", []byte(`{"data":"B"}`))
	waitFor(t, func() bool { return len(received()) == 1 })

	if received()[0].Data != "B" {
		t.Errorf("received %+v", received())
	}
	s := b.Stats()
	if s.CodecErrors != 1 || s.Published != 1 || s.Received != 2 {
		t.Errorf("Stats() = %+v", s)
	}
	if b.State() != Subscribed {
		t.Errorf("State() = %v, want subscribed", b.State())
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.warns != 1 {
		t.Errorf("warns = %d, want 1", logger.warns)
	}
}

func TestInbound_LocalPublishError(t *testing.T) {
	deps, bus, conn := testDeps(t, "")
	// Bind /out to a different type so the bridge's publish is rejected.
	if err := bus.Publish("/out", lookup(t, "Bool"), &msgs.Bool{}); err != nil {
		t.Fatal(err)
	}

	b, err := NewInbound(inboundSpec(t, "String", "in", "/out"), deps)
	if err != nil {
		t.Fatalf("NewInbound() error = %v", err)
	}
	defer b.Close()

	conn.SimulateMessage("in", []byte(`{"data":"x"}`))
	if s := b.Stats(); s.PublishErrors != 1 || s.Published != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestInbound_SubscribeFailureFaults(t *testing.T) {
	deps, _, conn := testDeps(t, "")
	conn.subErr = errors.New("not authorized")

	b, err := NewInbound(inboundSpec(t, "String", "in", "/out"), deps)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("NewInbound() error = %v, want ErrSubscribeFailed", err)
	}
	if b.State() != Faulted {
		t.Errorf("State() = %v, want faulted", b.State())
	}

	// Faulted is terminal: closing neither unsubscribes nor changes state.
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if b.State() != Faulted || len(conn.unsubbed) != 0 {
		t.Errorf("State() = %v, unsubscribed = %v", b.State(), conn.unsubbed)
	}
}

func TestInbound_InvalidFilter(t *testing.T) {
	deps, _, _ := testDeps(t, "")
	_, err := NewInbound(inboundSpec(t, "String", "a/#/b", "/out"), deps)
	if !errors.Is(err, topic.ErrInvalidTopic) {
		t.Errorf("NewInbound() error = %v, want ErrInvalidTopic", err)
	}
}

func TestInbound_WildcardFilter(t *testing.T) {
	deps, _, conn := testDeps(t, "fleet")
	received := collect[msgs.String](t, deps, "/all_status", "String")

	b, err := NewInbound(inboundSpec(t, "String", "~/+/status", "/all_status"), deps)
	if err != nil {
		t.Fatalf("NewInbound() error = %v", err)
	}
	defer b.Close()

	conn.SimulateMatch("fleet/+/status", "fleet/r1/status", []byte(`{"data":"r1"}`))
	waitFor(t, func() bool { return len(received()) == 1 })
	if got := b.Stats().LastTopic; got != "~/r1/status" {
		t.Errorf("LastTopic = %q, want ~/r1/status", got)
	}

	conn.SimulateMatch("fleet/+/status", "fleet/r2/status", []byte(`{"data":"r2"}`))
	waitFor(t, func() bool { return len(received()) == 2 })
	if got := b.Stats().LastTopic; got != "~/r2/status" {
		t.Errorf("LastTopic = %q, want ~/r2/status", got)
	}
}

func TestInbound_LastTopicLabels(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		from   string
		filter string
		topic  string
		want   string
	}{
		{"private match", "fleet", "~/#", "fleet/#", "fleet/a/b", "~/a/b"},
		{"outside prefix", "fleet", "+/status", "+/status", "depot/status", "depot/status"},
		{"no prefix", "", "+/status", "+/status", "r1/status", "r1/status"},
		{"exact subscription", "fleet", "~/status", "fleet/status", "fleet/status", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, conn := testDeps(t, tt.prefix)
			b, err := NewInbound(inboundSpec(t, "String", tt.from, "/out"), deps)
			if err != nil {
				t.Fatalf("NewInbound() error = %v", err)
			}
			defer b.Close()

			conn.SimulateMatch(tt.filter, tt.topic, []byte(`{"data":"x"}`))
			if got := b.Stats().LastTopic; got != tt.want {
				t.Errorf("LastTopic = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInbound_ClosedBusDrops(t *testing.T) {
	deps, bus, conn := testDeps(t, "")
	logger := deps.Logger.(*mockLogger)

	b, err := NewInbound(inboundSpec(t, "String", "in", "/out"), deps)
	if err != nil {
		t.Fatalf("NewInbound() error = %v", err)
	}
	defer b.Close()

	bus.Close()
	conn.SimulateMessage("in", []byte(`{"data":"late"}`))

	if s := b.Stats(); s.Dropped != 1 || s.PublishErrors != 0 || s.Published != 0 {
		t.Errorf("Stats() = %+v, want one drop", s)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.errors != 0 {
		t.Errorf("errors = %d, want 0", logger.errors)
	}
	if !slices.Contains(logger.debugs, "local bus closed, dropping message") {
		t.Errorf("debug lines = %v", logger.debugs)
	}
}

func TestInbound_CloseWaitsForInFlight(t *testing.T) {
	deps, _, conn := testDeps(t, "")
	entered := make(chan struct{})
	release := make(chan struct{})
	deps.Codec = codec.Funcs("slow", json.Marshal, func(data []byte, into any) error {
		close(entered)
		<-release
		return json.Unmarshal(data, into)
	})

	b, err := NewInbound(inboundSpec(t, "String", "in", "/out"), deps)
	if err != nil {
		t.Fatalf("NewInbound() error = %v", err)
	}

	go conn.SimulateMessage("in", []byte(`{"data":"x"}`))
	<-entered

	closed := make(chan struct{})
	go func() {
		_ = b.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close() returned while a handler was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return after handler finished")
	}

	if len(conn.unsubbed) != 1 || conn.unsubbed[0] != "in" {
		t.Errorf("unsubscribed = %v, want [in]", conn.unsubbed)
	}
	if b.State() != Idle {
		t.Errorf("State() = %v, want idle", b.State())
	}

	// Messages after close are ignored.
	b.handle("in", []byte(`{"data":"late"}`))
	if s := b.Stats(); s.Received != 1 {
		t.Errorf("Received = %d, want 1", s.Received)
	}
}
