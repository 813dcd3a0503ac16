package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/internal/storage"
	"github.com/3leaps/icenimbus/pkg/output"
	"github.com/3leaps/icenimbus/pkg/table"
)

// session bundles what a table command needs: a storage backend, a loader
// reading through it, and the output stream with its JSONL writer.
type session struct {
	jobID   string
	backend *storage.Backend
	loader  *table.Loader
	writer  output.Writer
	out     io.Writer
	cleanup func()
}

// openSession builds the backend from the loaded configuration and opens
// the output destination.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Configuration not loaded", errors.New("no configuration"))
	}

	backend, err := storage.New(cfg, observability.CLILogger, observability.Metrics)
	if err != nil {
		observability.CLILogger.Error("Invalid storage configuration", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid storage configuration", err)
	}

	jobID := uuid.NewString()
	w, out, cleanup, err := createWriter(cmd, jobID, backend.Kind().String())
	if err != nil {
		_ = backend.Close()
		observability.CLILogger.Error("Failed to open output", zap.Error(err))
		return nil, exitError(foundry.ExitFileWriteError, "Failed to open output", err)
	}

	observability.CLILogger.Debug("Session opened",
		zap.String("job_id", jobID),
		zap.String("backend", backend.Kind().String()))

	return &session{
		jobID:   jobID,
		backend: backend,
		loader:  backend.NewLoader(),
		writer:  w,
		out:     out,
		cleanup: cleanup,
	}, nil
}

func (s *session) Close() {
	s.cleanup()
	_ = s.loader.Close()
	_ = s.backend.Close()
}

// fail logs err, emits it as an error record and returns the CLI error
// for it.
func (s *session) fail(ctx context.Context, message, uri string, err error) error {
	observability.CLILogger.Error(message, zap.String("uri", uri), zap.Error(err))
	_ = s.writer.WriteError(ctx, output.NewErrorRecord(err, uri))
	return exitError(exitCodeFor(err), message, err)
}

// createWriter opens the JSONL destination selected by --output.
func createWriter(cmd *cobra.Command, jobID, provider string) (output.Writer, io.Writer, func(), error) {
	dest, closeDest, err := openOutput(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	w := output.NewJSONLWriter(dest, jobID, provider)
	cleanup := func() {
		_ = w.Close()
		closeDest()
	}
	return w, dest, cleanup, nil
}

// openOutput resolves --output. "stdout" (or "-") is the command's output
// stream; anything else is a file path, optionally prefixed with "file:".
func openOutput(cmd *cobra.Command) (io.Writer, func(), error) {
	dest := strings.TrimSpace(outputDest)
	if dest == "" || dest == "-" || dest == "stdout" {
		return cmd.OutOrStdout(), func() {}, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

// exitCodeFor maps a table read failure onto a process exit code.
func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	switch output.ErrorCode(err) {
	case output.ErrCodeInvalidArgument, output.ErrCodeUnsupported:
		return foundry.ExitInvalidArgument
	case output.ErrCodeNotFound:
		return foundry.ExitFileNotFound
	case output.ErrCodeDecode:
		return foundry.ExitFileReadError
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}
