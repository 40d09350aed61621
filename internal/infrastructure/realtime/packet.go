package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types, the first byte of every websocket text frame.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
	sioBinaryEvent  byte = '5'
	sioBinaryAck    byte = '6'
)

const defaultNamespace = "/"

var errMalformedPacket = errors.New("malformed socket.io packet")

// engineOpen is the payload of the Engine.IO open packet.
type engineOpen struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// packet is one decoded Socket.IO packet.
type packet struct {
	Type      byte
	Namespace string
	ID        int64
	HasID     bool
	Data      json.RawMessage
}

// socketURL points raw at the Engine.IO websocket transport: http schemes
// become ws, an empty path becomes /socket.io/ and the EIO query is set.
func socketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func encodePacket(p packet) []byte {
	var b bytes.Buffer
	b.WriteByte(eioMessage)
	b.WriteByte(p.Type)
	if p.Namespace != "" && p.Namespace != defaultNamespace {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.HasID {
		b.WriteString(strconv.FormatInt(p.ID, 10))
	}
	b.Write(p.Data)
	return b.Bytes()
}

// decodePacket parses an Engine.IO message frame ("4" + Socket.IO packet).
func decodePacket(frame []byte) (packet, error) {
	if len(frame) < 2 || frame[0] != eioMessage {
		return packet{}, errMalformedPacket
	}
	p := packet{Type: frame[1], Namespace: defaultNamespace}
	if p.Type < sioConnect || p.Type > sioBinaryAck {
		return packet{}, fmt.Errorf("%w: unknown type %q", errMalformedPacket, p.Type)
	}
	rest := frame[2:]

	if p.Type == sioBinaryEvent || p.Type == sioBinaryAck {
		// attachment count precedes the namespace
		i := bytes.IndexByte(rest, '-')
		if i < 0 {
			return packet{}, fmt.Errorf("%w: binary packet without attachment count", errMalformedPacket)
		}
		rest = rest[i+1:]
	}

	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.ParseInt(string(rest[:digits]), 10, 64)
		if err != nil {
			return packet{}, fmt.Errorf("%w: ack id: %v", errMalformedPacket, err)
		}
		p.ID, p.HasID = id, true
		rest = rest[digits:]
	}

	if len(rest) > 0 {
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// eventPacket builds an EVENT packet for ["event", data].
func eventPacket(namespace, event string, data interface{}, id int64) (packet, error) {
	args := []interface{}{event}
	if data != nil {
		args = append(args, data)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return packet{}, err
	}
	return packet{Type: sioEvent, Namespace: namespace, ID: id, HasID: id > 0, Data: raw}, nil
}

// eventArgs splits an EVENT payload into its name and first argument.
func eventArgs(data json.RawMessage) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil || len(args) == 0 {
		return "", nil, fmt.Errorf("%w: event payload is not a non-empty array", errMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil || name == "" {
		return "", nil, fmt.Errorf("%w: event name is not a string", errMalformedPacket)
	}
	if len(args) < 2 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// ackArg returns the first argument of an ACK payload, if any.
func ackArg(data json.RawMessage) json.RawMessage {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil || len(args) == 0 {
		return nil
	}
	return args[0]
}

// connectRefusal is a CONNECT_ERROR packet answered to our CONNECT.
type connectRefusal struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *connectRefusal) Error() string {
	return "connection refused by server: " + e.Message
}

func decodeRefusal(data json.RawMessage) *connectRefusal {
	r := &connectRefusal{}
	if err := json.Unmarshal(data, r); err != nil || r.Message == "" {
		// v2 servers send a bare string
		var msg string
		if json.Unmarshal(data, &msg) == nil && msg != "" {
			r.Message = msg
		} else {
			r.Message = strings.TrimSpace(string(data))
		}
	}
	return r
}
