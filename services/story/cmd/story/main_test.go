package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"photoyarn/services/story/internal/config"
)

func TestRunReturnsStartupErrors(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	tests := []struct {
		name    string
		cfg     config.FileConfig
		wantErr string
	}{
		{
			name:    "unknown duplicate policy",
			cfg:     config.FileConfig{DuplicateMarkerPolicy: "merge"},
			wantErr: "duplicate marker policy",
		},
		{
			name: "object store after database opened",
			cfg: config.FileConfig{
				DuplicateMarkerPolicy: "last-wins",
				DatabaseURL:           "sqlite://" + filepath.Join(dir, "story.db"),
				StorageBackend:        "local",
				StorageDir:            filepath.Join(blocker, "stories"),
			},
			wantErr: "init object store",
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := run(context.Background(), tc.cfg, logger)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("run error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}
