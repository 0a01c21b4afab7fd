// ABOUTME: Tests for launch artifact generation and process teardown.
// ABOUTME: Uses real short-lived processes to exercise signal escalation.

package launcher

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(command []string) *Supervisor {
	return NewSupervisor(Config{
		Command:     command,
		BasePort:    1141,
		GracePeriod: 200 * time.Millisecond,
	}, slog.Default())
}

func TestBuildArtifactPorts(t *testing.T) {
	artifact := BuildArtifact([]string{"kobuki", "guimul"}, 1141)

	require.Len(t, artifact.Launch, 2)
	assert.Equal(t, "kobuki:1141", artifact.Launch[0].Title)
	assert.Equal(t, 1141, artifact.Launch[0].Port)
	assert.Equal(t, "guimul:1142", artifact.Launch[1].Title)
	assert.Equal(t, 1142, artifact.Launch[1].Port)
}

func TestBuildArtifactEntries(t *testing.T) {
	artifact := BuildArtifact([]string{"kobuki"}, 1141)

	entry := artifact.Launch[0]
	assert.Equal(t, "kobuki", entry.AgentName)
	assert.Equal(t, "agent.launch", entry.Name)
	assert.NotEmpty(t, entry.ConcertWhitelist)
	assert.NotEmpty(t, entry.RappWhitelist)
}

func TestLaunchBatchWritesDecodableArtifact(t *testing.T) {
	s := newTestSupervisor([]string{"sleep", "30"})

	record, err := s.LaunchBatch(context.Background(), []string{"kobuki", "guimul"})
	require.NoError(t, err)
	defer s.TerminateAll()

	var decoded Artifact
	_, err = toml.DecodeFile(record.ArtifactPath(), &decoded)
	require.NoError(t, err)

	require.Len(t, decoded.Launch, 2)
	assert.Equal(t, 1141, decoded.Launch[0].Port)
	assert.Equal(t, 1142, decoded.Launch[1].Port)
}

func TestPortsContinueAcrossBatches(t *testing.T) {
	s := newTestSupervisor([]string{"sleep", "30"})
	defer s.TerminateAll()

	_, err := s.LaunchBatch(context.Background(), []string{"kobuki", "guimul"})
	require.NoError(t, err)

	record, err := s.LaunchBatch(context.Background(), []string{"abra"})
	require.NoError(t, err)

	var decoded Artifact
	_, err = toml.DecodeFile(record.ArtifactPath(), &decoded)
	require.NoError(t, err)
	assert.Equal(t, 1143, decoded.Launch[0].Port)
}

func TestLaunchBatchFailureLeavesNoArtifact(t *testing.T) {
	s := newTestSupervisor([]string{"/nonexistent/launcher"})

	_, err := s.LaunchBatch(context.Background(), []string{"kobuki"})
	require.ErrorIs(t, err, ErrLaunchFailed)
	assert.Equal(t, 0, s.Records())
}

func TestLaunchBatchEmptyNames(t *testing.T) {
	s := newTestSupervisor([]string{"sleep", "30"})

	_, err := s.LaunchBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrLaunchFailed)
}

func TestTerminateAllRemovesArtifact(t *testing.T) {
	s := newTestSupervisor([]string{"sleep", "30"})

	record, err := s.LaunchBatch(context.Background(), []string{"kobuki"})
	require.NoError(t, err)
	artifactPath := record.ArtifactPath()

	s.TerminateAll()

	_, err = os.Stat(artifactPath)
	assert.True(t, os.IsNotExist(err), "artifact should be removed after termination")
}

func TestTerminateAllIdempotent(t *testing.T) {
	s := newTestSupervisor([]string{"sleep", "30"})

	_, err := s.LaunchBatch(context.Background(), []string{"kobuki"})
	require.NoError(t, err)

	s.TerminateAll()
	// Second call must not re-signal or double-delete.
	s.TerminateAll()
	assert.Equal(t, 1, s.Records())
}

func TestContextCancelFollowsSignalEscalation(t *testing.T) {
	// Cancelling the launch context must not SIGKILL outright: a shell
	// trapping TERM has to survive until the grace period elapses.
	s := newTestSupervisor([]string{"sh", "-c", "trap '' TERM; sleep 30"})
	defer s.TerminateAll()

	ctx, cancel := context.WithCancel(context.Background())
	record, err := s.LaunchBatch(ctx, []string{"kobuki"})
	require.NoError(t, err)

	start := time.Now()
	cancel()

	select {
	case <-record.done:
	case <-time.After(5 * time.Second):
		t.Fatal("process still alive after cancellation")
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond,
		"cancellation skipped the grace period")
}

func TestTerminateEscalatesWhenTermIgnored(t *testing.T) {
	// A shell trapping TERM forces the SIGKILL path.
	s := newTestSupervisor([]string{"sh", "-c", "trap '' TERM; sleep 30"})

	record, err := s.LaunchBatch(context.Background(), []string{"kobuki"})
	require.NoError(t, err)

	start := time.Now()
	s.TerminateAll()
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	select {
	case <-record.done:
	case <-time.After(5 * time.Second):
		t.Fatal("process still alive after escalation")
	}
}
