package grpc

import (
	"context"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"imu_apiserver/internal/sensor"
	"time"
)

// The service is described by hand on top of the protobuf well-known types, so
// clients in any language can call it with a generic Struct decoder.
const (
	ServiceName           = "imu.IMUService"
	MethodStart           = "/" + ServiceName + "/Start"
	MethodStop            = "/" + ServiceName + "/Stop"
	MethodGetLatestSample = "/" + ServiceName + "/GetLatestSample"
	MethodGetStatus       = "/" + ServiceName + "/GetStatus"
	MethodSubscribe       = "/" + ServiceName + "/Subscribe"
)

type IMUServiceServer interface {
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetLatestSample(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Subscribe(*durationpb.Duration, IMUServiceSubscribeServer) error
}

type IMUServiceSubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type imuServiceSubscribeServer struct {
	grpc.ServerStream
}

func (x *imuServiceSubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

type unaryCall func(IMUServiceServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IMUServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(IMUServiceServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(durationpb.Duration)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(IMUServiceServer).Subscribe(m, &imuServiceSubscribeServer{stream})
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IMUServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Start",
			Handler:    unaryHandler(MethodStart, IMUServiceServer.Start),
		},
		{
			MethodName: "Stop",
			Handler:    unaryHandler(MethodStop, IMUServiceServer.Stop),
		},
		{
			MethodName: "GetLatestSample",
			Handler:    unaryHandler(MethodGetLatestSample, IMUServiceServer.GetLatestSample),
		},
		{
			MethodName: "GetStatus",
			Handler:    unaryHandler(MethodGetStatus, IMUServiceServer.GetStatus),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "imu.proto",
}

func RegisterIMUServiceServer(s grpc.ServiceRegistrar, srv IMUServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SampleToStruct encodes a sample with the keys of sensor.FieldNames
func SampleToStruct(s sensor.Sample) (*structpb.Struct, error) {
	fields := s.Fields()
	m := make(map[string]interface{}, len(fields))
	for i, name := range sensor.FieldNames {
		m[name] = float64(fields[i])
	}
	return structpb.NewStruct(m)
}

// StructToSample is the inverse of SampleToStruct; missing keys decode as zero
func StructToSample(st *structpb.Struct) sensor.Sample {
	var values [9]float32
	for i, name := range sensor.FieldNames {
		values[i] = float32(st.GetFields()[name].GetNumberValue())
	}
	return sensor.Sample{
		Acc:   sensor.Triple{values[0], values[1], values[2]},
		Gyro:  sensor.Triple{values[3], values[4], values[5]},
		Euler: sensor.Triple{values[6], values[7], values[8]},
	}
}

// Client calls IMUService over an existing connection
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Start(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodStart, opts...)
}

func (c *Client) Stop(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodStop, opts...)
}

func (c *Client) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetStatus, opts...)
}

func (c *Client) GetLatestSample(ctx context.Context, opts ...grpc.CallOption) (sensor.Sample, error) {
	out, err := c.invoke(ctx, MethodGetLatestSample, opts...)
	if err != nil {
		return sensor.Sample{}, err
	}
	return StructToSample(out), nil
}

// Subscribe opens a stream of samples sent every interval. The returned function
// blocks for the next sample.
func (c *Client) Subscribe(ctx context.Context, interval time.Duration, opts ...grpc.CallOption) (func() (sensor.Sample, error), error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	if err = stream.SendMsg(durationpb.New(interval)); err != nil {
		return nil, err
	}
	if err = stream.CloseSend(); err != nil {
		return nil, err
	}
	return func() (sensor.Sample, error) {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			return sensor.Sample{}, err
		}
		return StructToSample(out), nil
	}, nil
}
