package ws

import (
	"encoding/json"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ugaemi/patrol-server/internal/protocol"
)

// mockClient creates a Client with a buffered Send channel for testing.
func mockClient(id string) *Client {
	return &Client{
		ID:   id,
		Send: make(chan []byte, 256),
	}
}

// drainMessages reads all pending JSON messages from a client's send channel.
func drainMessages(client *Client) []Message {
	var msgs []Message
	for {
		select {
		case data := <-client.Send:
			var msg Message
			if err := json.Unmarshal(data, &msg); err == nil {
				msgs = append(msgs, msg)
			}
		default:
			return msgs
		}
	}
}

func boundClient(h *Hub, id string, playerID uint64, pose *ObserverPose) *Client {
	c := mockClient(id)
	h.Bind(c, playerID)
	if pose != nil {
		c.SetPose(*pose)
	}
	return c
}

func TestSendToPlayer(t *testing.T) {
	h := NewHub()
	c := boundClient(h, "c1", 42, nil)

	msg, _ := NewMessage(TypeChat, protocol.ChatMessage{From: 1, Message: "hi"})
	assert.True(t, h.SendToPlayer(42, msg))
	assert.False(t, h.SendToPlayer(43, msg))

	msgs := drainMessages(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeChat, msgs[0].Type)
}

func TestBind_ReplacesOlderConnection(t *testing.T) {
	h := NewHub()
	old := boundClient(h, "old", 42, nil)
	fresh := boundClient(h, "new", 42, nil)

	msg, _ := NewMessage(TypeChat, protocol.ChatMessage{Message: "x"})
	h.SendToPlayer(42, msg)

	assert.Empty(t, drainMessages(old))
	assert.Len(t, drainMessages(fresh), 1)
	assert.False(t, old.Bound)

	// Removing the stale client keeps the new binding.
	h.remove(old)
	assert.True(t, h.isConnected(42))
}

func TestRemove_UnbindsPlayer(t *testing.T) {
	h := NewHub()
	c := boundClient(h, "c1", 42, nil)
	h.remove(c)

	assert.False(t, h.isConnected(42))
	assert.Equal(t, 0, h.ClientCount())
}

func TestPublishNear_FiltersByRadius(t *testing.T) {
	h := NewHub()
	near := boundClient(h, "near", 1, &ObserverPose{AreaID: 7, Local: mgl64.Vec3{10, 0, 0}})
	far := boundClient(h, "far", 2, &ObserverPose{AreaID: 7, Local: mgl64.Vec3{2000, 0, 0}})
	otherArea := boundClient(h, "other", 3, &ObserverPose{AreaID: 8, Local: mgl64.Vec3{0, 0, 0}})
	unknown := boundClient(h, "unknown", 4, nil)

	msg, _ := NewMessage(TypePoseUpdate, protocol.PoseUpdate{EntityID: 10002})
	sent := h.PublishNear(msg, protocol.Location{AreaID: 7, Position: mgl64.Vec3{}}, 1000)

	assert.Equal(t, 1, sent)
	assert.Len(t, drainMessages(near), 1)
	assert.Empty(t, drainMessages(far))
	assert.Empty(t, drainMessages(otherArea))
	assert.Empty(t, drainMessages(unknown))
}

func TestPublishNear_WorldSpace(t *testing.T) {
	h := NewHub()
	c := boundClient(h, "c", 1, &ObserverPose{AreaID: 7, World: mgl64.Vec3{3000, 0, 0}})

	msg, _ := NewMessage(TypeShot, protocol.ShotEffect{ID: 1})
	assert.Equal(t, 1, h.PublishNear(msg, protocol.Location{Position: mgl64.Vec3{0, 0, 0}}, 4000))
	assert.Equal(t, 0, h.PublishNear(msg, protocol.Location{Position: mgl64.Vec3{0, 0, 0}}, 1000))
	assert.Len(t, drainMessages(c), 1)
}

func TestSendMessage_Msgpack(t *testing.T) {
	c := mockClient("c")
	c.SetCodec(CodecMsgpack)

	msg, _ := NewMessage(TypePoseUpdate, protocol.PoseUpdate{EntityID: 10002, AreaID: 7})
	require.True(t, c.SendMessage(msg))

	data := <-c.Send
	var frame struct {
		Type string         `msgpack:"type"`
		Data map[string]any `msgpack:"data"`
	}
	require.NoError(t, msgpack.Unmarshal(data, &frame))
	assert.Equal(t, TypePoseUpdate, frame.Type)
	assert.EqualValues(t, 10002, frame.Data["entity_id"])
}

func TestCodec_MsgpackFromRawData(t *testing.T) {
	msg := Message{Type: TypeError, Data: json.RawMessage(`{"message":"boom"}`)}
	data, err := CodecMsgpack.Encode(msg)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, msgpack.Unmarshal(data, &frame))
	assert.Equal(t, TypeError, frame["type"])
}

func TestSendMessage_FullBufferDrops(t *testing.T) {
	c := &Client{ID: "c", Send: make(chan []byte, 1)}
	msg := NewErrorMessage("x")

	assert.True(t, c.SendMessage(msg))
	assert.False(t, c.SendMessage(msg))
}

func TestParseCodec(t *testing.T) {
	assert.Equal(t, CodecMsgpack, ParseCodec("msgpack"))
	assert.Equal(t, CodecJSON, ParseCodec("json"))
	assert.Equal(t, CodecJSON, ParseCodec(""))
}

func TestBind_RefusesRemovedClient(t *testing.T) {
	h := NewHub()
	c := mockClient("c1")
	h.add(c)
	h.remove(c)

	assert.False(t, h.Bind(c, 42))
	assert.False(t, c.Bound)
	assert.False(t, h.isConnected(42))
	assert.Equal(t, 0, h.ClientCount())

	msg, _ := NewMessage(TypeChat, protocol.ChatMessage{Message: "x"})
	assert.False(t, h.SendToPlayer(42, msg))
}

func TestSendMessage_ClosedClient(t *testing.T) {
	c := mockClient("c1")
	c.close()
	c.close()

	assert.True(t, c.Closed())
	assert.NotPanics(t, func() {
		assert.False(t, c.SendMessage(NewErrorMessage("late")))
	})
}

func TestRun_DropsMessagesFromRemovedClients(t *testing.T) {
	h := NewHub()
	handled := make(chan string, 4)
	h.OnMessage = func(cm *ClientMessage) { handled <- cm.Client.ID }
	go h.Run()

	gone := mockClient("gone")
	live := mockClient("live")
	h.Register <- gone
	h.Register <- live
	h.Unregister <- gone

	h.Incoming <- &ClientMessage{Client: gone, Data: []byte(`{}`)}
	h.Incoming <- &ClientMessage{Client: live, Data: []byte(`{}`)}

	assert.Equal(t, "live", <-handled)
	assert.Empty(t, handled)
}
