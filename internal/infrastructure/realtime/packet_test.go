package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"http://api.local", "ws://api.local/socket.io/?EIO=4&transport=websocket"},
		{"https://api.local/", "wss://api.local/socket.io/?EIO=4&transport=websocket"},
		{"ws://api.local/realtime/?room=x", "ws://api.local/realtime/?EIO=4&room=x&transport=websocket"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := socketURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := socketURL("ftp://api.local")
	assert.Error(t, err)
}

func TestEncodePacket(t *testing.T) {
	p, err := eventPacket("/", EventJoinRoom, JoinRoomRequest{ChatID: "c1"}, 12)
	require.NoError(t, err)
	assert.Equal(t, `4212["join:room",{"chatId":"c1"}]`, string(encodePacket(p)))

	p, err = eventPacket("/admin", EventChatCreated, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, `42/admin,["monitor:chat_created"]`, string(encodePacket(p)))

	assert.Equal(t, "40", string(encodePacket(packet{Type: sioConnect, Namespace: "/"})))
	assert.Equal(t, `40{"token":"t"}`, string(encodePacket(packet{Type: sioConnect, Data: json.RawMessage(`{"token":"t"}`)})))
}

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  packet
	}{
		{"event", `42["message",{"id":"m1"}]`, packet{Type: sioEvent, Namespace: "/", Data: json.RawMessage(`["message",{"id":"m1"}]`)}},
		{"ack with id", `4315[{"success":true}]`, packet{Type: sioAck, Namespace: "/", ID: 15, HasID: true, Data: json.RawMessage(`[{"success":true}]`)}},
		{"namespaced event with id", `42/admin,3["x"]`, packet{Type: sioEvent, Namespace: "/admin", ID: 3, HasID: true, Data: json.RawMessage(`["x"]`)}},
		{"connect", `40{"sid":"abc"}`, packet{Type: sioConnect, Namespace: "/", Data: json.RawMessage(`{"sid":"abc"}`)}},
		{"disconnect", `41`, packet{Type: sioDisconnect, Namespace: "/"}},
		{"namespaced disconnect", `41/admin`, packet{Type: sioDisconnect, Namespace: "/admin"}},
		{"binary event", `451-["upload",{"_placeholder":true,"num":0}]`, packet{Type: sioBinaryEvent, Namespace: "/", Data: json.RawMessage(`["upload",{"_placeholder":true,"num":0}]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePacket([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "4", "2", "49[]", "45[]"} {
		_, err := decodePacket([]byte(bad))
		assert.ErrorIs(t, err, errMalformedPacket, bad)
	}
}

func TestEventArgs(t *testing.T) {
	name, arg, err := eventArgs(json.RawMessage(`["monitor:chat_updated",{"chatRoomId":"c1"},"extra"]`))
	require.NoError(t, err)
	assert.Equal(t, EventChatUpdated, name)
	assert.JSONEq(t, `{"chatRoomId":"c1"}`, string(arg))

	name, arg, err = eventArgs(json.RawMessage(`["monitor:chat_created"]`))
	require.NoError(t, err)
	assert.Equal(t, EventChatCreated, name)
	assert.Nil(t, arg)

	for _, bad := range []string{`[]`, `{"event":"x"}`, `[1,2]`} {
		_, _, err := eventArgs(json.RawMessage(bad))
		assert.ErrorIs(t, err, errMalformedPacket, bad)
	}
}

func TestAckArg(t *testing.T) {
	assert.JSONEq(t, `{"success":true}`, string(ackArg(json.RawMessage(`[{"success":true}]`))))
	assert.Nil(t, ackArg(json.RawMessage(`[]`)))
	assert.Nil(t, ackArg(nil))
}

func TestClassifyRefusal(t *testing.T) {
	ce := classifyRefusal(decodeRefusal(json.RawMessage(`{"message":"Unauthorized"}`)))
	assert.Equal(t, ErrorClassAuth, ce.Class)
	assert.True(t, ce.Terminal)

	ce = classifyRefusal(decodeRefusal(json.RawMessage(`"Invalid namespace"`)))
	assert.Equal(t, ErrorClassNotFound, ce.Class)
	assert.Equal(t, "Invalid namespace", ce.Message)

	ce = classifyRefusal(decodeRefusal(json.RawMessage(`{"message":"server is restarting"}`)))
	assert.Equal(t, ErrorClassHandshake, ce.Class)
	assert.False(t, ce.Terminal)
}
