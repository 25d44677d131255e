// Package wire implements the protobuf control-channel envelope for
// streaming adapters: subscribe and keepalive frames are framed as
// protobuf structs (google.golang.org/protobuf), the same binary-framing
// choice the teacher's pb.WebsocketRequest/pb.PingRequest make for its
// venue, while market-data frames remain the venue's native JSON text --
// most prediction-market feeds (Polymarket's CLOB WS among them) never
// speak protobuf over the wire for market data itself.
package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Subscribe builds the protobuf-encoded subscribe control frame for a
// set of asset ids.
func Subscribe(assets []string) ([]byte, error) {
	values := make([]interface{}, len(assets))
	for i, a := range assets {
		values[i] = a
	}
	msg, err := structpb.NewStruct(map[string]interface{}{
		"type":       "subscribe",
		"assets_ids": values,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: build subscribe frame: %w", err)
	}
	return proto.Marshal(msg)
}

// Ping builds the protobuf-encoded keepalive frame.
func Ping(now time.Time) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"type": "ping",
		"ts":   float64(now.UnixMilli()),
	})
	if err != nil {
		return nil, fmt.Errorf("wire: build ping frame: %w", err)
	}
	return proto.Marshal(msg)
}

// Decode parses a protobuf control frame back into a generic field map,
// used by tests and by adapters that echo the server's ack frames.
func Decode(data []byte) (map[string]interface{}, error) {
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	return msg.AsMap(), nil
}
