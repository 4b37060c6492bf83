package grpc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chicken/broker/internal/config"
	"chicken/broker/internal/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func generateSelfSignedCert(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "chicken-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestSharedSecretInterceptorAcceptsValidSecret(t *testing.T) {
	interceptor := newSharedSecretInterceptor("hunter2")
	md := metadata.New(map[string]string{sharedSecretMetadataKey: "hunter2"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	called := false
	handler := func(context.Context, any) (any, error) {
		called = true
		return nil, nil
	}
	if _, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: SubmitMethod}, handler); err != nil {
		t.Fatalf("interceptor returned error: %v", err)
	}
	if !called {
		t.Fatal("expected handler to be invoked for valid secret")
	}
}

func TestSharedSecretInterceptorAcceptsBearerToken(t *testing.T) {
	interceptor := newSharedSecretInterceptor("hunter2")
	md := metadata.New(map[string]string{"authorization": "Bearer hunter2"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	handler := func(context.Context, any) (any, error) { return "ok", nil }
	if _, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, handler); err != nil {
		t.Fatalf("interceptor returned error: %v", err)
	}
}

func TestSharedSecretInterceptorRejectsMissingSecret(t *testing.T) {
	interceptor := newSharedSecretInterceptor("hunter2")
	handler := func(context.Context, any) (any, error) { return nil, nil }
	for name, ctx := range map[string]context.Context{
		"no metadata":  context.Background(),
		"wrong secret": metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{sharedSecretMetadataKey: "nope"})),
	} {
		_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, handler)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: expected unauthenticated code, got %v", name, err)
		}
	}
}

func TestSharedSecretRoundTripOverBufnet(t *testing.T) {
	collector, err := NewCollector(t.TempDir(), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	cfg := &config.Config{GRPCAuthMode: config.GRPCAuthModeSharedSecret, GRPCSharedSecret: "hunter2"}
	opts, err := ServerOptions(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("ServerOptions: %v", err)
	}
	server := startBufnet(t, collector, opts...)

	//1.- A client without the secret is refused, one carrying it is accepted.
	if err := server.dial(t).Submit(context.Background(), sampleDocument()); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if err := server.dial(t, WithSharedSecret("hunter2")).Submit(context.Background(), sampleDocument()); err != nil {
		t.Fatalf("authorised submit: %v", err)
	}
}

func TestLoadMTLSCredentialsFailsWithBadPaths(t *testing.T) {
	if _, err := loadMTLSCredentials("missing-cert", "missing-key", "missing-ca"); err == nil {
		t.Fatal("expected error for missing files")
	}
}

func TestServerOptionsMTLS(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t)
	cfg := &config.Config{GRPCAuthMode: config.GRPCAuthModeMTLS, GRPCServerCertPath: certFile, GRPCServerKeyPath: keyFile, GRPCClientCAPath: certFile}
	opts, err := ServerOptions(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("ServerOptions: %v", err)
	}
	if len(opts) == 0 {
		t.Fatal("expected grpc options for mtls configuration")
	}
}

func TestServerOptionsRejectsUnknownMode(t *testing.T) {
	if _, err := ServerOptions(&config.Config{GRPCAuthMode: "kerberos"}, logging.NewTestLogger()); err == nil {
		t.Fatal("expected unsupported mode error")
	}
	opts, err := ServerOptions(&config.Config{GRPCAuthMode: config.GRPCAuthModeNone}, logging.NewTestLogger())
	if err != nil || len(opts) != 0 {
		t.Fatalf("expected no options for none mode, got %v %v", opts, err)
	}
}
