package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/notify"
	"github.com/habitroyale/habit-engine/internal/service/jobs"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

type fakeJobs struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{calls: make(map[string]int), errs: make(map[string]error)}
}

func (f *fakeJobs) record(name string) (jobs.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if err := f.errs[name]; err != nil {
		return jobs.Result{Processed: 1}, err
	}
	return jobs.Result{Processed: 1, Updated: 1}, nil
}

func (f *fakeJobs) HealthDecay(context.Context) (jobs.Result, error) {
	return f.record(jobs.JobHealthDecay)
}

func (f *fakeJobs) BattleExpiry(context.Context) (jobs.Result, error) {
	return f.record(jobs.JobBattleExpiry)
}

func (f *fakeJobs) LeaderboardRebuild(context.Context) (jobs.Result, error) {
	return f.record(jobs.JobLeaderboardRebuild)
}

type fakeRelay struct {
	runs int
}

func (r *fakeRelay) RunOnce(context.Context) notify.RelayResult {
	r.runs++
	return notify.RelayResult{}
}

func testConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		Enabled:            true,
		Timezone:           "UTC",
		HealthDecay:        "0 6 * * *",
		BattleExpiry:       "0 2 * * *",
		LeaderboardRebuild: "30 3 * * *",
		OutboxRelay:        "@every 1m",
	}
}

func TestStart_RegistersJobs(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *config.SchedulerConfig)
		withRelay bool
		want      int
		wantErr   bool
	}{
		{
			name:      "all jobs with relay",
			withRelay: true,
			want:      4,
		},
		{
			name: "relay not configured",
			want: 3,
		},
		{
			name:      "empty schedule skips the job",
			mutate:    func(cfg *config.SchedulerConfig) { cfg.LeaderboardRebuild = "" },
			withRelay: true,
			want:      3,
		},
		{
			name:    "disabled",
			mutate:  func(cfg *config.SchedulerConfig) { cfg.Enabled = false },
			want:    0,
			wantErr: false,
		},
		{
			name:    "invalid cron expression",
			mutate:  func(cfg *config.SchedulerConfig) { cfg.HealthDecay = "every morning" },
			wantErr: true,
		},
		{
			name:    "invalid timezone",
			mutate:  func(cfg *config.SchedulerConfig) { cfg.Timezone = "Mars/Olympus_Mons" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			var relay Relay
			if tt.withRelay {
				relay = &fakeRelay{}
			}

			s := NewService(cfg, newFakeJobs(), relay, logger.Nop())
			err := s.Start()
			defer s.Stop()

			if (err != nil) != tt.wantErr {
				t.Fatalf("Start() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := len(s.Entries()); got != tt.want {
				t.Errorf("Start() registered %d jobs, want %d", got, tt.want)
			}
		})
	}
}

func TestDefinitions_RunJobs(t *testing.T) {
	fj := newFakeJobs()
	relay := &fakeRelay{}
	s := NewService(testConfig(), fj, relay, logger.Nop())

	for _, def := range s.definitions() {
		def.run(context.Background())
	}

	for _, name := range []string{jobs.JobHealthDecay, jobs.JobBattleExpiry, jobs.JobLeaderboardRebuild} {
		if fj.calls[name] != 1 {
			t.Errorf("job %s ran %d times, want 1", name, fj.calls[name])
		}
	}
	if relay.runs != 1 {
		t.Errorf("relay ran %d times, want 1", relay.runs)
	}
}

func TestDefinitions_LogJobFailure(t *testing.T) {
	fj := newFakeJobs()
	fj.errs[jobs.JobBattleExpiry] = errors.New("database unavailable")

	var buf bytes.Buffer
	s := NewService(testConfig(), fj, nil, logger.NewWriter(&buf))

	for _, def := range s.definitions() {
		def.run(context.Background())
	}

	var failed []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, "Scheduled job failed") {
			failed = append(failed, line)
		}
	}
	if len(failed) != 1 {
		t.Fatalf("expected one failure log line, got %d:\n%s", len(failed), buf.String())
	}
	if !strings.Contains(failed[0], `"job":"battle_expiry"`) || !strings.Contains(failed[0], "database unavailable") {
		t.Errorf("failure log misses job or error: %s", failed[0])
	}
	if fj.calls[jobs.JobLeaderboardRebuild] != 1 {
		t.Error("a failing job must not stop the others")
	}
}

func TestStop_WithoutStart(t *testing.T) {
	s := NewService(testConfig(), newFakeJobs(), nil, logger.Nop())
	s.Stop()
}
