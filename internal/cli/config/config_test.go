package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ojkit/internal/judge/model"
	"ojkit/internal/testutil"
)

func TestLoad(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "ojkit.yaml")
	data := `
cache:
  root: /tmp/ojkit-cases
runner:
  jobs: 3
  stopOnFailure: true
  compare:
    mode: float
    absEps: 0.001
retry:
  baseDelay: 100ms
  multiplier: 3
  maxDelay: 2s
  maxAttempts: 5
poll:
  interval: 500ms
judges:
  atcoder:
    username: tourist
    language: "5001"
    options:
      min_interval: 1s
`
	testutil.MustNoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, cfg.Cache.Root, "/tmp/ojkit-cases")
	testutil.AssertEqual(t, cfg.Runner.Jobs, 3)
	testutil.AssertTrue(t, cfg.Runner.StopOnFailure, "stopOnFailure parsed")
	testutil.AssertEqual(t, cfg.Runner.Compare.Mode, model.CompareFloat)
	testutil.AssertEqual(t, cfg.Runner.Compare.AbsEps, 0.001)
	testutil.AssertEqual(t, cfg.Retry.BaseDelay, 100*time.Millisecond)
	testutil.AssertEqual(t, cfg.Retry.MaxAttempts, 5)
	testutil.AssertEqual(t, cfg.Poll.Interval, 500*time.Millisecond)
	testutil.AssertEqual(t, cfg.Poll.MaxWait, DefaultPollMaxWait)
	testutil.AssertEqual(t, cfg.Judge(model.JudgeAtCoder).Language, "5001")
	testutil.AssertEqual(t, cfg.Judge(model.JudgeAtCoder).Options["min_interval"], "1s")
	testutil.AssertFalse(t, cfg.Redis.Enabled(), "redis is off by default")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, cfg.Retry.MaxAttempts, 4)
	testutil.AssertEqual(t, cfg.Retry.MaxDelay, 8*time.Second)
	testutil.AssertEqual(t, cfg.HTTP.Timeout, DefaultHTTPTimeout)
	testutil.AssertEqual(t, len(cfg.Judges), len(model.AllJudges))
	testutil.AssertTrue(t, cfg.Cache.Root != "", "cache root defaults to the user cache dir")
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "bad.yaml")
	testutil.MustNoError(t, os.WriteFile(path, []byte("runner: [1, 2"), 0o644))
	_, err := Load(path)
	testutil.AssertTrue(t, err != nil, "broken yaml is an error")
}

func TestDotEnvAndCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	env := "OJKIT_CODEFORCES_PASSWORD=hunter2\nOJKIT_CACHE_DIR=/tmp/from-env\n"
	testutil.MustNoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	t.Setenv("OJKIT_CODEFORCES_USERNAME", "")
	t.Setenv("OJKIT_YUKICODER_API_KEY", "key-123")
	t.Cleanup(func() {
		_ = os.Unsetenv("OJKIT_CODEFORCES_PASSWORD")
		_ = os.Unsetenv("OJKIT_CACHE_DIR")
	})

	cfg, err := Load("")
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, cfg.Cache.Root, "/tmp/from-env")

	cfg.Judges["codeforces"] = JudgeConfig{Username: "petr"}
	creds := cfg.Credentials(model.JudgeCodeforces)
	testutil.AssertEqual(t, creds.Username, "petr")
	testutil.AssertEqual(t, creds.Password, "hunter2")
	testutil.AssertEqual(t, cfg.Credentials(model.JudgeYukicoder).APIKey, "key-123")
}
