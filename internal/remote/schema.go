package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/config"
)

// The wire schema is proto/cadsim/v1/worker.proto. Messages travel through
// gRPC's default proto codec as dynamic messages built from the descriptor
// below, which mirrors that file field for field.
var (
	workerFile    protoreflect.FileDescriptor
	requestType   protoreflect.MessageDescriptor
	responseType  protoreflect.MessageDescriptor
	serviceName   string
	executeMethod string
)

func init() {
	fd, err := protodesc.NewFile(workerProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("remote: build worker schema: %v", err))
	}
	workerFile = fd
	requestType = fd.Messages().ByName("ExecuteRequest")
	responseType = fd.Messages().ByName("ExecuteResponse")

	svc := fd.Services().ByName("Worker")
	serviceName = string(svc.FullName())
	executeMethod = "/" + serviceName + "/" + string(svc.Methods().ByName("ExecuteBundle").Name())
}

func workerProto() *descriptorpb.FileDescriptorProto {
	field := func(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:   &name,
			Number: &num,
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:   typ.Enum(),
		}
	}
	str := func(s string) *string { return &s }

	return &descriptorpb.FileDescriptorProto{
		Name:    str("cadsim/v1/worker.proto"),
		Package: str("cadsim.v1"),
		Syntax:  str("proto3"),
		Options: &descriptorpb.FileOptions{GoPackage: str("github.com/san-kum/cadsim/internal/remote")},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: str("ExecuteRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("task", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					field("bundle", 2, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
					field("backend", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					field("process_exceptions", 4, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
					field("raise_exceptions", 5, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
					field("deepcopy", 6, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
					field("drop_substeps", 7, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				},
			},
			{
				Name: str("ExecuteResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("outcomes", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: str("Worker"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       str("ExecuteBundle"),
						InputType:  str(".cadsim.v1.ExecuteRequest"),
						OutputType: str(".cadsim.v1.ExecuteResponse"),
					},
				},
			},
		},
	}
}

// ExecuteRequest carries one run bundle and its parameter block.
type ExecuteRequest struct {
	Task   string
	Bundle []byte
	Params bundle.RemoteParams
}

type ExecuteResponse struct {
	Outcomes []byte
}

func (r *ExecuteRequest) toProto() *dynamicpb.Message {
	m := dynamicpb.NewMessage(requestType)
	f := requestType.Fields()
	m.Set(f.ByName("task"), protoreflect.ValueOfString(r.Task))
	m.Set(f.ByName("bundle"), protoreflect.ValueOfBytes(r.Bundle))
	m.Set(f.ByName("backend"), protoreflect.ValueOfString(string(r.Params.Backend)))
	m.Set(f.ByName("process_exceptions"), protoreflect.ValueOfBool(r.Params.ProcessExceptions))
	m.Set(f.ByName("raise_exceptions"), protoreflect.ValueOfBool(r.Params.RaiseExceptions))
	m.Set(f.ByName("deepcopy"), protoreflect.ValueOfBool(r.Params.Deepcopy))
	m.Set(f.ByName("drop_substeps"), protoreflect.ValueOfBool(r.Params.DropSubsteps))
	return m
}

// requestFromProto reads a decoded request. An empty backend is left empty;
// the runner applies its own default.
func requestFromProto(m protoreflect.Message) (*ExecuteRequest, error) {
	f := requestType.Fields()
	req := &ExecuteRequest{
		Task:   m.Get(f.ByName("task")).String(),
		Bundle: m.Get(f.ByName("bundle")).Bytes(),
		Params: bundle.RemoteParams{
			ProcessExceptions: m.Get(f.ByName("process_exceptions")).Bool(),
			RaiseExceptions:   m.Get(f.ByName("raise_exceptions")).Bool(),
			Deepcopy:          m.Get(f.ByName("deepcopy")).Bool(),
			DropSubsteps:      m.Get(f.ByName("drop_substeps")).Bool(),
		},
	}
	if name := m.Get(f.ByName("backend")).String(); name != "" {
		b, err := config.ParseBackend(name)
		if err != nil {
			return nil, err
		}
		req.Params.Backend = b
	}
	return req, nil
}

func (r *ExecuteResponse) toProto() *dynamicpb.Message {
	m := dynamicpb.NewMessage(responseType)
	m.Set(responseType.Fields().ByName("outcomes"), protoreflect.ValueOfBytes(r.Outcomes))
	return m
}

func responseFromProto(m protoreflect.Message) *ExecuteResponse {
	return &ExecuteResponse{Outcomes: m.Get(responseType.Fields().ByName("outcomes")).Bytes()}
}

type workerServer interface {
	ExecuteBundle(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
}

func serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*workerServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "ExecuteBundle", Handler: executeHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: workerFile.Path(),
	}
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(requestType)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		r, err := requestFromProto(req.(*dynamicpb.Message))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		resp, err := srv.(workerServer).ExecuteBundle(ctx, r)
		if err != nil {
			return nil, err
		}
		return resp.toProto(), nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	return interceptor(ctx, in, info, call)
}
