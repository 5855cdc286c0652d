package cli

import (
	"context"

	"github.com/cumba2321/classsync/internal/auth"
	"github.com/cumba2321/classsync/internal/docstore"
	"github.com/cumba2321/classsync/internal/docstore/natskv"
	"github.com/cumba2321/classsync/internal/remote"
)

// session is the backend and signed-in identity one command works with.
type session struct {
	backend docstore.Backend
	adapter *remote.Adapter
	auth    *auth.Session
}

// openSession connects to NATS when a URL is configured and opens the
// SQLite database otherwise.
func (opts *RootOptions) openSession(ctx context.Context) (*session, error) {
	cfg := opts.Config

	var (
		backend docstore.Backend
		err     error
	)
	if cfg.NATS.URL != "" {
		opts.Logger.Debug("opening NATS key-value backend", "url", cfg.NATS.URL, "bucket", cfg.NATS.Bucket)
		backend, err = natskv.Open(ctx, cfg.NATS.URL, cfg.NATS.Bucket)
	} else {
		opts.Logger.Debug("opening SQLite backend", "path", cfg.Database)
		backend, err = docstore.OpenSQLite(cfg.Database)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open backend", err)
	}

	s := &session{
		backend: backend,
		adapter: remote.New(backend, remote.WithLogger(opts.Logger)),
		auth:    auth.NewSession(),
	}
	if cfg.User.UserID != "" {
		s.auth = auth.Static(cfg.User)
	}
	return s, nil
}

func (s *session) Close() error {
	return s.backend.Close()
}
