// ABOUTME: Supervises externally launched agent batches for the herder.
// ABOUTME: Writes launch artifacts, starts the launcher, and tears down with escalating signals.

package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrLaunchFailed indicates the external launcher could not be started.
// When it is returned, no artifact is left behind and none of the
// requested agent names may be registered by the caller.
var ErrLaunchFailed = errors.New("launch failed")

// Whitelist arguments passed to every launched agent. The launched
// process uses them to restrict which concerts and rapps it will join.
const (
	concertWhitelist = "Turtle Concert;Turtle Teleop Concert;Concert Tutorial"
	rappWhitelist    = "[rocon_apps, turtle_concert]"
)

// LaunchEntry is one agent's entry in the generated launch artifact.
type LaunchEntry struct {
	Title            string `toml:"title"`
	Name             string `toml:"name"`
	Port             int    `toml:"port"`
	AgentName        string `toml:"agent_name"`
	ConcertWhitelist string `toml:"concert_whitelist"`
	RappWhitelist    string `toml:"rapp_whitelist"`
}

// Artifact is the hierarchical launch document consumed by the external
// launcher, one entry per agent.
type Artifact struct {
	Launch []LaunchEntry `toml:"launch"`
}

// ProcessRecord owns exactly one launched process and the artifact it
// was started from. Records are torn down exactly once during shutdown.
type ProcessRecord struct {
	cmd          *exec.Cmd
	artifactPath string
	done         chan struct{} // closed when the process exits
	terminated   bool
}

// Config parameterizes the supervisor.
type Config struct {
	// Command is the external launcher invocation; the artifact path is
	// appended as the final argument.
	Command []string
	// BasePort is assigned to the first entry of a batch; subsequent
	// entries get sequential increments.
	BasePort int
	// GracePeriod is how long to wait after SIGTERM before escalating
	// to SIGKILL.
	GracePeriod time.Duration
}

// Supervisor launches one OS process per batch of agents and terminates
// them all on shutdown.
type Supervisor struct {
	cfg      Config
	records  []*ProcessRecord
	nextPort int
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewSupervisor creates a Supervisor with the given config.
func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 3 * time.Second
	}
	return &Supervisor{
		cfg:      cfg,
		nextPort: cfg.BasePort,
		logger:   logger,
	}
}

// BuildArtifact generates the launch document for a batch of agent
// names, allocating each a distinct sequential port starting at from.
func BuildArtifact(names []string, from int) Artifact {
	var artifact Artifact
	port := from
	for _, name := range names {
		artifact.Launch = append(artifact.Launch, LaunchEntry{
			Title:            fmt.Sprintf("%s:%d", name, port),
			Name:             "agent.launch",
			Port:             port,
			AgentName:        name,
			ConcertWhitelist: concertWhitelist,
			RappWhitelist:    rappWhitelist,
		})
		port++
	}
	return artifact
}

// LaunchBatch writes the artifact for names, starts the external
// launcher pointed at it, and records the resulting process. Ports
// continue sequentially across batches.
func (s *Supervisor) LaunchBatch(ctx context.Context, names []string) (*ProcessRecord, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no agent names given", ErrLaunchFailed)
	}
	if len(s.cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: no launcher command configured", ErrLaunchFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	artifact := BuildArtifact(names, s.nextPort)

	tmp, err := os.CreateTemp("", "concert-launch-*.toml")
	if err != nil {
		return nil, fmt.Errorf("%w: creating artifact: %v", ErrLaunchFailed, err)
	}
	if err := toml.NewEncoder(tmp).Encode(artifact); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: writing artifact: %v", ErrLaunchFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: closing artifact: %v", ErrLaunchFailed, err)
	}

	args := append(append([]string{}, s.cfg.Command[1:]...), tmp.Name())
	cmd := exec.CommandContext(ctx, s.cfg.Command[0], args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Context cancellation must follow the same escalation contract as
	// TerminateAll: SIGTERM first, SIGKILL only after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.GracePeriod

	s.logger.Info("starting launcher", "command", s.cfg.Command[0], "artifact", tmp.Name(), "agents", names)
	if err := cmd.Start(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: starting %s: %v", ErrLaunchFailed, s.cfg.Command[0], err)
	}

	record := &ProcessRecord{
		cmd:          cmd,
		artifactPath: tmp.Name(),
		done:         make(chan struct{}),
	}
	// Reap the process so termination can observe its exit.
	go func() {
		_ = cmd.Wait()
		close(record.done)
	}()

	s.records = append(s.records, record)
	s.nextPort += len(names)
	return record, nil
}

// TerminateAll tears down every record: graceful SIGTERM, bounded wait,
// SIGKILL escalation (failure tolerated - the process may already be
// gone), then artifact removal. Removal happens strictly after the
// termination attempts so the launcher keeps access to its config file
// while it runs. Idempotent: records are torn down at most once.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.terminated {
			continue
		}
		record.terminated = true
		s.terminate(record)
	}
}

func (s *Supervisor) terminate(record *ProcessRecord) {
	pid := record.cmd.Process.Pid
	s.logger.Info("terminating launcher process", "pid", pid)

	if err := record.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("SIGTERM failed, process likely exited", "pid", pid, "error", err)
	}

	select {
	case <-record.done:
	case <-time.After(s.cfg.GracePeriod):
		// Escalate. A failure here is environment-dependent and never
		// fatal: the process may have exited between the signals.
		if err := record.cmd.Process.Kill(); err != nil {
			s.logger.Warn("SIGKILL failed", "pid", pid, "error", err)
		}
	}

	if err := os.Remove(record.artifactPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing launch artifact", "path", record.artifactPath, "error", err)
	} else {
		s.logger.Debug("removed launch artifact", "path", record.artifactPath)
	}
}

// Records returns the number of tracked process records.
func (s *Supervisor) Records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ArtifactPath exposes the record's artifact location.
func (r *ProcessRecord) ArtifactPath() string {
	return r.artifactPath
}
