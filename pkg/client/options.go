package client

import (
	"crypto/tls"
	"crypto/x509"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type options struct {
	rootCAs            *x509.CertPool
	serverName         string
	insecureSkipVerify bool
	clientName         string
	maxMessageBytes    int
	logger             *zap.Logger
	dialOptions        []grpc.DialOption
}

// Option configures Connect
type Option func(*options)

// WithRootCAs sets the pool used to verify the server certificate. The
// system pool is used otherwise.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(o *options) { o.rootCAs = pool }
}

// WithServerName overrides the name checked against the server certificate
func WithServerName(name string) Option {
	return func(o *options) { o.serverName = name }
}

// WithInsecureSkipVerify disables server certificate verification. The
// connection is still encrypted.
func WithInsecureSkipVerify() Option {
	return func(o *options) { o.insecureSkipVerify = true }
}

// WithClientName is reported to the server at Connect
func WithClientName(name string) Option {
	return func(o *options) { o.clientName = name }
}

// WithMaxMessageBytes sets the largest message the client sends or
// receives. The default fits a record of the server's default size limit;
// raise it for servers configured with a larger storage.limits.max_record_size.
func WithMaxMessageBytes(n int) Option {
	return func(o *options) { o.maxMessageBytes = n }
}

// WithLogger sets the logger; the default discards everything
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDialOptions appends raw gRPC dial options
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}

func (o *options) tlsConfig(host string) *tls.Config {
	serverName := o.serverName
	if serverName == "" {
		serverName = host
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            o.rootCAs,
		ServerName:         serverName,
		InsecureSkipVerify: o.insecureSkipVerify,
	}
}
