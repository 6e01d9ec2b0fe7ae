//go:build integration

package helpers

import (
	"context"
	"fmt"
	"net/http/httptest"

	"github.com/proctorwatch/proctor-platform/pkg/classify"
	"github.com/proctorwatch/proctor-platform/pkg/platform"
)

// TestPlatform wraps a started platform and an HTTP server exposing its
// REST surface.
type TestPlatform struct {
	Platform *platform.Platform
	Server   *httptest.Server
}

// NewTestPlatform builds a platform backed by the given postgres DSN, with
// a stubbed classifier, starts it, and serves its handler.
func NewTestPlatform(ctx context.Context, dsn string, classifier classify.Classifier) (*TestPlatform, error) {
	cfg := platform.DefaultConfig()
	cfg.Server.Name = "e2e-proctor-platform"
	cfg.Database.DSN = dsn

	p, err := platform.New(
		platform.WithConfig(cfg),
		platform.WithClassifier(classifier),
	)
	if err != nil {
		return nil, fmt.Errorf("creating platform: %w", err)
	}

	if err := p.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting platform: %w", err)
	}

	return &TestPlatform{
		Platform: p,
		Server:   httptest.NewServer(p.Handler()),
	}, nil
}

// Close tears down the HTTP server and the platform.
func (tp *TestPlatform) Close(ctx context.Context) error {
	tp.Server.Close()
	return tp.Platform.Stop(ctx)
}
