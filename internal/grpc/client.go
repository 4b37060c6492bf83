package grpc

import (
	"context"
	"fmt"
	"strings"

	"chicken/broker/internal/export"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Submitter delivers experiment documents to a remote ExperimentSink. It satisfies
// export.Sink so the data manager can fan out to it alongside the HTTP endpoint.
type Submitter struct {
	conn  grpc.ClientConnInterface
	close func() error
}

// NewSubmitter wraps an existing client connection.
func NewSubmitter(conn grpc.ClientConnInterface) *Submitter {
	return &Submitter{conn: conn, close: func() error { return nil }}
}

// DialSubmitter creates a client for target. Without options the connection is plaintext,
// optionally authenticated with a shared secret.
func DialSubmitter(target, sharedSecret string, opts ...grpc.DialOption) (*Submitter, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("grpc submit target required")
	}
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if secret := strings.TrimSpace(sharedSecret); secret != "" {
		opts = append(opts, WithSharedSecret(secret))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial results sink: %w", err)
	}
	return &Submitter{conn: conn, close: conn.Close}, nil
}

// Name identifies the sink in submission results.
func (s *Submitter) Name() string { return "grpc" }

// Submit converts the document into a protobuf Struct and invokes the remote sink.
func (s *Submitter) Submit(ctx context.Context, doc export.ExperimentData) error {
	raw, err := export.Encode(doc)
	if err != nil {
		return err
	}
	document := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, document); err != nil {
		return fmt.Errorf("convert experiment data: %w", err)
	}
	reply := new(structpb.Struct)
	if err := s.conn.Invoke(ctx, SubmitMethod, document, reply); err != nil {
		return fmt.Errorf("submit experiment data: %w", err)
	}
	return nil
}

// Close releases the underlying connection when the submitter dialed it.
func (s *Submitter) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

var _ export.Sink = (*Submitter)(nil)
