package observability

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitMeterProvider(t *testing.T) {
	mp, err := InitMeterProvider(Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, mp)
	require.NotNil(t, mp.provider)
	require.NotNil(t, mp.exporter)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	assert.NoError(t, mp.Shutdown(context.Background(), logger))
}

func TestNormalizeProtocol(t *testing.T) {
	for input, want := range map[string]string{
		"":              protocolGRPC,
		"grpc":          protocolGRPC,
		" GRPC ":        protocolGRPC,
		"http":          protocolHTTP,
		"http/protobuf": protocolHTTP,
	} {
		got, err := normalizeProtocol(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	_, err := normalizeProtocol("thrift")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported OTLP protocol")
}

func TestBuildTLSConfigMissingCAFile(t *testing.T) {
	_, err := buildTLSConfig(OTLPConfig{CAFile: "/nonexistent/ca.pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read OTLP CA file")
}

func TestBuildTLSConfigInvalidCA(t *testing.T) {
	path := t.TempDir() + "/ca.pem"
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPConfig{CAFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse OTLP CA file")
}

func TestBuildTLSConfigRequiresKeyPair(t *testing.T) {
	path := t.TempDir() + "/client.crt"
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPConfig{CertFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cert and key must both be set")
}

func TestSamplerForRatioBoundaries(t *testing.T) {
	never := samplerForRatio(0)
	always := samplerForRatio(1)

	decisionNever := never.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionNever)

	decisionAlways := always.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionAlways)
}

func TestSamplerForRatioFollowsParent(t *testing.T) {
	sampler := samplerForRatio(0.5)

	parentSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	decision := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentSampled,
		TraceID:       trace.TraceID{4},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decision)

	parentNotSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	decision = sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentNotSampled,
		TraceID:       trace.TraceID{6},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decision)
}
