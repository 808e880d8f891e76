package peerlink

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/pkg/peerlink"
)

const (
	serviceName = "topicmesh.peerlink.v1.PeerLink"
	linkMethod  = "/" + serviceName + "/Link"
)

// ErrMalformedFrame is returned when a received frame cannot be decoded
var ErrMalformedFrame = errors.New("malformed link frame")

// linkHandler is implemented by the server side of the Link stream
type linkHandler interface {
	Link(stream grpc.ServerStream) error
}

var linkStreamDesc = grpc.StreamDesc{
	StreamName:    "Link",
	Handler:       linkStreamHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// serviceDesc describes the PeerLink service. Frames travel as
// google.protobuf.Struct so no generated stubs are needed.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*linkHandler)(nil),
	Streams:     []grpc.StreamDesc{linkStreamDesc},
	Metadata:    "topicmesh/peerlink/v1/peerlink.proto",
}

func linkStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(linkHandler).Link(stream)
}

// frameStream is the part of a gRPC stream frames are moved over
type frameStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

func sendFrame(stream frameStream, f *peerlink.Frame) error {
	msg, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}

func recvFrame(stream frameStream) (*peerlink.Frame, error) {
	msg := &structpb.Struct{}
	if err := stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return decodeFrame(msg)
}

func encodeFrame(f *peerlink.Frame) (*structpb.Struct, error) {
	fields := map[string]any{"kind": string(f.Kind)}
	switch f.Kind {
	case peerlink.FrameHello:
		fields["node_id"] = f.NodeID
	case peerlink.FrameSubscribe, peerlink.FrameUnsubscribe:
		filters := make([]any, len(f.Filters))
		for i, filter := range f.Filters {
			filters[i] = filter
		}
		fields["filters"] = filters
	case peerlink.FramePublish:
		if f.Record == nil {
			return nil, fmt.Errorf("%w: publish frame without record", ErrMalformedFrame)
		}
		fields["record"] = encodeRecord(f.Record)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedFrame, f.Kind)
	}
	return structpb.NewStruct(fields)
}

func encodeRecord(r *eventlog.Record) map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	return map[string]any{
		"id":        r.ID,
		"topic":     r.Topic,
		"payload":   base64.StdEncoding.EncodeToString(r.Payload),
		"timestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
		"headers":   headers,
		"origin":    r.Origin,
	}
}

func decodeFrame(msg *structpb.Struct) (*peerlink.Frame, error) {
	fields := msg.GetFields()
	f := &peerlink.Frame{Kind: peerlink.FrameKind(fields["kind"].GetStringValue())}

	switch f.Kind {
	case peerlink.FrameHello:
		f.NodeID = fields["node_id"].GetStringValue()
		if f.NodeID == "" {
			return nil, fmt.Errorf("%w: hello without node ID", ErrMalformedFrame)
		}
	case peerlink.FrameSubscribe, peerlink.FrameUnsubscribe:
		for _, v := range fields["filters"].GetListValue().GetValues() {
			f.Filters = append(f.Filters, v.GetStringValue())
		}
	case peerlink.FramePublish:
		r, err := decodeRecord(fields["record"].GetStructValue())
		if err != nil {
			return nil, err
		}
		f.Record = r
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedFrame, f.Kind)
	}
	return f, nil
}

func decodeRecord(s *structpb.Struct) (*eventlog.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: publish frame without record", ErrMalformedFrame)
	}
	fields := s.GetFields()

	r := &eventlog.Record{
		ID:      fields["id"].GetStringValue(),
		Topic:   fields["topic"].GetStringValue(),
		Origin:  fields["origin"].GetStringValue(),
		Headers: make(map[string]string),
	}
	if r.ID == "" || r.Topic == "" {
		return nil, fmt.Errorf("%w: record needs an ID and a topic", ErrMalformedFrame)
	}

	payload, err := base64.StdEncoding.DecodeString(fields["payload"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedFrame, err)
	}
	if len(payload) > 0 {
		r.Payload = payload
	}

	if ts := fields["timestamp"].GetStringValue(); ts != "" {
		r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformedFrame, err)
		}
	}
	for k, v := range fields["headers"].GetStructValue().GetFields() {
		r.Headers[k] = v.GetStringValue()
	}
	return r, nil
}
