package adminrpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/arvind-mehta/orderflow-core/internal/adminqueue"
	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

// NewGRPCServer builds the *grpc.Server cmd/admin listens on: the forced
// JSON codec so the hand-written serviceDesc below can decode without
// protobuf, and the same otelgrpc stats handler every other gRPC server in
// this system installs.
func NewGRPCServer(h Handler) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	RegisterAdminServiceServer(s, h)
	return s
}

// ServiceName is the gRPC service name used in every full method path and
// by the hand-written serviceDesc. The Consul registration name is set
// separately by cmd/admin.
const ServiceName = "orderflow.admin.v1.AdminService"

// Wire messages. These are hand-declared rather than protoc-generated: the
// jsonCodec lets a grpc.Server exchange plain JSON-tagged structs instead
// of protobuf wire format, so there is no .proto/generated-code step.

type ListEscalatedRequest struct{}

type EscalatedItem struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason"`
	CreatedAt   string `json:"created_at"`
}

type ListEscalatedResponse struct {
	Items []EscalatedItem `json:"items"`
}

type VendorSnapshotRequest struct {
	VendorID string `json:"vendor_id"`
}

type VendorSnapshotResponse struct {
	VendorID             string  `json:"vendor_id"`
	ResponseSpeed        float64 `json:"response_speed"`
	AcceptanceRate       float64 `json:"acceptance_rate"`
	PriceCompetitiveness float64 `json:"price_competitiveness"`
	DeliverySuccess      float64 `json:"delivery_success"`
	CancellationRate     float64 `json:"cancellation_rate"`
	Overall              float64 `json:"overall"`
	Tier                 string  `json:"tier"`
	ComputedAt           string  `json:"computed_at"`
}

type RequeueRequest struct {
	ItemID string `json:"item_id"`
}

type RequeueResponse struct {
	Resolved bool `json:"resolved"`
}

// Handler is what a grpc.Server dispatches admin RPCs to. Server satisfies
// it directly.
type Handler interface {
	ListEscalated(ctx context.Context, req *ListEscalatedRequest) (*ListEscalatedResponse, error)
	GetVendorSnapshot(ctx context.Context, req *VendorSnapshotRequest) (*VendorSnapshotResponse, error)
	RecomputeVendorScore(ctx context.Context, req *VendorSnapshotRequest) (*VendorSnapshotResponse, error)
	Requeue(ctx context.Context, req *RequeueRequest) (*RequeueResponse, error)
}

// Server adapts *Service to the Handler a grpc.Server dispatches to.
type Server struct {
	svc *Service
}

func NewServer(svc *Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) ListEscalated(ctx context.Context, _ *ListEscalatedRequest) (*ListEscalatedResponse, error) {
	items, err := s.svc.ListEscalated(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EscalatedItem, 0, len(items))
	for _, it := range items {
		createdAt := ""
		if it.CreatedAt.Valid {
			createdAt = it.CreatedAt.Time.Format(time.RFC3339)
		}
		out = append(out, EscalatedItem{
			ID: it.ID, Kind: string(it.Kind), ReferenceID: it.ReferenceID, Reason: it.Reason, CreatedAt: createdAt,
		})
	}
	return &ListEscalatedResponse{Items: out}, nil
}

func (s *Server) GetVendorSnapshot(ctx context.Context, req *VendorSnapshotRequest) (*VendorSnapshotResponse, error) {
	snapshot, err := s.svc.GetVendorSnapshot(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}
	return snapshotToWire(snapshot), nil
}

func (s *Server) RecomputeVendorScore(ctx context.Context, req *VendorSnapshotRequest) (*VendorSnapshotResponse, error) {
	snapshot, err := s.svc.RecomputeVendorScore(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}
	return snapshotToWire(snapshot), nil
}

func (s *Server) Requeue(ctx context.Context, req *RequeueRequest) (*RequeueResponse, error) {
	if err := s.svc.Requeue(ctx, req.ItemID); err != nil {
		return nil, err
	}
	return &RequeueResponse{Resolved: true}, nil
}

func snapshotToWire(snapshot domain.VendorScoreSnapshot) *VendorSnapshotResponse {
	return &VendorSnapshotResponse{
		VendorID:             snapshot.VendorID,
		ResponseSpeed:        snapshot.ResponseSpeed,
		AcceptanceRate:       snapshot.AcceptanceRate,
		PriceCompetitiveness: snapshot.PriceCompetitiveness,
		DeliverySuccess:      snapshot.DeliverySuccess,
		CancellationRate:     snapshot.CancellationRate,
		Overall:              snapshot.Overall,
		Tier:                 string(snapshot.Tier),
		ComputedAt:           snapshot.ComputedAt.Format(time.RFC3339),
	}
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would otherwise generate from a .proto file, registering the same four
// unary methods against grpc.Server.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListEscalated", Handler: listEscalatedHandler},
		{MethodName: "GetVendorSnapshot", Handler: getVendorSnapshotHandler},
		{MethodName: "RecomputeVendorScore", Handler: recomputeVendorScoreHandler},
		{MethodName: "Requeue", Handler: requeueHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/adminrpc/server.go",
}

// RegisterAdminServiceServer wires a Handler into a *grpc.Server, the
// manual counterpart to a generated RegisterXxxServer function.
func RegisterAdminServiceServer(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

func listEscalatedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ListEscalatedRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).ListEscalated(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListEscalated"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).ListEscalated(ctx, req.(*ListEscalatedRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getVendorSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(VendorSnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).GetVendorSnapshot(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetVendorSnapshot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).GetVendorSnapshot(ctx, req.(*VendorSnapshotRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func recomputeVendorScoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(VendorSnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).RecomputeVendorScore(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RecomputeVendorScore"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).RecomputeVendorScore(ctx, req.(*VendorSnapshotRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func requeueHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(RequeueRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Requeue(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Requeue"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Handler).Requeue(ctx, req.(*RequeueRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var _ Handler = (*Server)(nil)
