// Copyright 2026 The Cargolift Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSecret(t *testing.T) {
	tests := []struct {
		key    string
		secret bool
	}{
		{"password", true},
		{"user_password", true},
		{"PASSWORD", true},
		{"refresh_token", true},
		{"token_hash", true},
		{"api_key", true},
		{"client_secret", true},
		{"Authorization", true},
		{"credential_id", true},
		{"family_id", false},
		{"record_id", false},
		{"user_id", false},
		{"stakeholder", false},
		{"reason", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.secret, isSecret(tt.key))
		})
	}
}

// TestPurpose: Validates that credential-bearing metadata never reaches the log stream.
// Scope: Unit Test
// Security: Audit events are long-lived; a leaked secret in one outlives every rotation.
// Expected: Secret-named metadata values are replaced with a redaction marker, other values pass through.
func TestSlogLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	NewSlogLogger().Log(context.Background(), Event{
		Type:     TypeTokenRotated,
		ActorID:  "u-1",
		Resource: "refresh_token",
		Metadata: map[string]any{
			"refresh_token": "super-secret-value",
			"family_id":     "fam-1",
		},
	})

	out := buf.String()
	assert.NotContains(t, out, "super-secret-value")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "fam-1")
	assert.Contains(t, out, "AUDIT_EVENT")
}

func TestSlogLogger_SetsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	NewSlogLogger().Log(context.Background(), Event{Type: TypeSignOut, ActorID: "u-1", Resource: "session"})

	assert.Contains(t, buf.String(), "timestamp")
}
