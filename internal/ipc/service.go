package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/shelfd/internal/events"
	"github.com/banshee-data/shelfd/internal/monitoring"
)

// StreamMethod is the full method name of the event stream.
const StreamMethod = "/shelfd.ipc.v1.DomainEvents/Stream"

// streamer is implemented by Publisher; ServiceDesc.HandlerType points at it.
type streamer interface {
	stream(req *structpb.Struct, ss grpc.ServerStream) error
}

// ServiceDesc describes shelfd.ipc.v1.DomainEvents.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "shelfd.ipc.v1.DomainEvents",
	HandlerType: (*streamer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "shelfd/ipc/v1/events.proto",
}

func streamHandler(srv any, ss grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := ss.RecvMsg(req); err != nil {
		return err
	}
	return srv.(streamer).stream(req, ss)
}

func (p *Publisher) stream(req *structpb.Struct, ss grpc.ServerStream) error {
	kinds, err := requestKinds(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	c, err := p.addClient(kinds)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer p.removeClient(c.id)

	ctx := ss.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		case ev := <-c.ch:
			msg, err := EventToStruct(ev)
			if err != nil {
				monitoring.Logf("[ipc] convert %s: %v", ev.Kind, err)
				continue
			}
			if err := ss.SendMsg(msg); err != nil {
				return err
			}
			p.sent.Add(1)
		}
	}
}

// requestKinds reads the optional "kinds" filter.
func requestKinds(req *structpb.Struct) ([]events.Kind, error) {
	v, ok := req.GetFields()["kinds"]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, errors.New("kinds must be a list of strings")
	}
	known := make(map[events.Kind]bool, len(events.AllKinds))
	for _, k := range events.AllKinds {
		known[k] = true
	}
	var out []events.Kind
	for _, item := range list.GetValues() {
		k := events.Kind(item.GetStringValue())
		if !known[k] {
			return nil, fmt.Errorf("unknown event kind %q", item.GetStringValue())
		}
		out = append(out, k)
	}
	return out, nil
}

// EventToStruct converts ev to its wire form, the same fields as its JSON.
func EventToStruct(ev events.Event) (*structpb.Struct, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// StructToEvent is the inverse of EventToStruct.
func StructToEvent(s *structpb.Struct) (events.Event, error) {
	var ev events.Event
	data, err := protojson.Marshal(s)
	if err != nil {
		return ev, err
	}
	err = json.Unmarshal(data, &ev)
	return ev, err
}

// EventStream is the client side of a Stream call.
type EventStream struct {
	cs grpc.ClientStream
}

// Subscribe opens an event stream on conn, optionally filtered to kinds.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, kinds ...events.Kind) (*EventStream, error) {
	cs, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod)
	if err != nil {
		return nil, err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if len(kinds) > 0 {
		vals := make([]*structpb.Value, 0, len(kinds))
		for _, k := range kinds {
			vals = append(vals, structpb.NewStringValue(string(k)))
		}
		req.Fields["kinds"] = structpb.NewListValue(&structpb.ListValue{Values: vals})
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{cs: cs}, nil
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (events.Event, error) {
	msg := new(structpb.Struct)
	if err := s.cs.RecvMsg(msg); err != nil {
		return events.Event{}, err
	}
	return StructToEvent(msg)
}
