package server

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the OCR service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Submit uploads a document and returns the job id.
func (c *Client) Submit(ctx context.Context, data []byte, contentType string, opts ...grpc.CallOption) (string, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		MDContentType, contentType,
		MDDeclaredSize, strconv.Itoa(len(data)),
	)
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Submit", wrapperspb.Bytes(data), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Result fetches the polling view of a job.
func (c *Client) Result(ctx context.Context, jobID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetResult", wrapperspb.String(jobID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Export fetches a finished job as XLSX bytes.
func (c *Client) Export(ctx context.Context, jobID string, opts ...grpc.CallOption) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ExportResult", wrapperspb.String(jobID), out, opts...); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}
