package client

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// GetZoneMediaMethod is the full gRPC method name of the manifest call. The
// request is a Struct {"zoneId": "<id>"}; the response is a Struct in any of
// the shapes accepted by the HTTP client, typically {"media": [...]}.
const GetZoneMediaMethod = "/zonemedia.v1.ZoneMediaService/GetZoneMedia"

type GRPCManifestClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	cc          grpc.ClientConnInterface
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCManifestClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.accessToken != "" {
		ctx = withAccessToken(ctx, s.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCManifestClient creates a lazily connecting client. Extra dial
// options are appended after the defaults (insecure transport, token
// interceptor).
func NewGRPCManifestClient(endpointURL, accessToken string, opts ...grpc.DialOption) (*GRPCManifestClient, error) {
	c := &GRPCManifestClient{endpointURL: endpointURL, accessToken: accessToken}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.cc = conn
	return c, nil
}

func (s *GRPCManifestClient) GetZoneMedia(ctx context.Context, zoneID string) ([]models.RemoteMediaRecord, error) {
	req, err := structpb.NewStruct(map[string]any{"zoneId": zoneID})
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := s.cc.Invoke(ctx, GetZoneMediaMethod, req, resp); err != nil {
		return nil, s.mapError(err)
	}

	body, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	return decodeManifest(zoneID, body)
}

func (s *GRPCManifestClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCManifestClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.NotFound:
		return nil
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
