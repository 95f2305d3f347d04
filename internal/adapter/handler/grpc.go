package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/feed"
)

// The ThreatFeed service carries its messages as protobuf well-known types:
//
//	GetSummary(google.protobuf.Empty) returns (google.protobuf.Struct)
//	QueryThreats(google.protobuf.Struct {"type": "..."}) returns (google.protobuf.Struct)
const (
	FeedServiceName    = "threatfeed.v1.ThreatFeed"
	getSummaryMethod   = "/" + FeedServiceName + "/GetSummary"
	queryThreatsMethod = "/" + FeedServiceName + "/QueryThreats"
)

// FeedServiceServer is the server API for the ThreatFeed service.
type FeedServiceServer interface {
	GetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	QueryThreats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// FeedServiceDesc describes the ThreatFeed service for grpc.Server.RegisterService.
var FeedServiceDesc = grpc.ServiceDesc{
	ServiceName: FeedServiceName,
	HandlerType: (*FeedServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSummary", Handler: getSummaryHandler},
		{MethodName: "QueryThreats", Handler: queryThreatsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "threatfeed/v1/threatfeed.proto",
}

func RegisterFeedServiceServer(s grpc.ServiceRegistrar, srv FeedServiceServer) {
	s.RegisterService(&FeedServiceDesc, srv)
}

func getSummaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeedServiceServer).GetSummary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getSummaryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FeedServiceServer).GetSummary(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func queryThreatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeedServiceServer).QueryThreats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: queryThreatsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FeedServiceServer).QueryThreats(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type GrpcServer struct {
	store *feed.Store
}

func NewGrpcServer(store *feed.Store) *GrpcServer {
	return &GrpcServer{store: store}
}

func (s *GrpcServer) GetSummary(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.store.Current()
	if err != nil {
		return nil, toStatus(err)
	}

	discrepancies := make([]any, len(snap.Summary.Discrepancies))
	for i, d := range snap.Summary.Discrepancies {
		discrepancies[i] = d
	}
	byRisk := make(map[string]any, 4)
	for level, n := range snap.CountByRisk() {
		byRisk[level.String()] = n
	}

	return structpb.NewStruct(map[string]any{
		"emails_scanned":    snap.Summary.EmailsScanned,
		"threats_detected":  snap.Summary.ThreatsDetected,
		"quarantined_items": snap.Summary.QuarantinedItems,
		"discrepancies":     discrepancies,
		"by_risk":           byRisk,
		"snapshot_id":       snap.ID,
		"ingested_at":       formatTime(snap.IngestedAt),
	})
}

func (s *GrpcServer) QueryThreats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var raw string
	if v, ok := req.GetFields()["type"]; ok {
		raw = v.GetStringValue()
	}
	filter, err := domain.ParseFilter(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	snap, err := s.store.Current()
	if err != nil {
		return nil, toStatus(err)
	}

	records := snap.Query(filter)
	threats := make([]any, len(records))
	for i, rec := range records {
		threats[i] = threatFields(rec)
	}

	return structpb.NewStruct(map[string]any{
		"filter":      string(filter),
		"count":       len(threats),
		"snapshot_id": snap.ID,
		"threats":     threats,
	})
}

func threatFields(rec domain.ThreatRecord) map[string]any {
	return map[string]any{
		"id":          rec.ID,
		"timestamp":   formatTime(rec.Timestamp),
		"type":        string(rec.Type),
		"raw_type":    rec.RawType,
		"type_accent": rec.Type.Accent(),
		"risk_score":  rec.RiskScore,
		"risk_level":  rec.Risk.String(),
		"risk_band":   rec.Risk.Band(),
		"status":      rec.Status,
		"details": map[string]any{
			"subject": rec.Details.Subject,
			"sender":  rec.Details.Sender,
		},
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, feed.ErrNotReady):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, feed.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// UnaryLoggingInterceptor logs every unary call with its outcome.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

// FeedServiceClient calls the ThreatFeed service.
type FeedServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewFeedServiceClient(cc grpc.ClientConnInterface) *FeedServiceClient {
	return &FeedServiceClient{cc: cc}
}

func (c *FeedServiceClient) GetSummary(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getSummaryMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryThreats asks for the records of one filter; an empty filter means All.
func (c *FeedServiceClient) QueryThreats(ctx context.Context, filter string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"type": filter})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, queryThreatsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
