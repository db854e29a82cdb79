package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads RESUME_CHAT_* variables for settings that have no
// CLI flag. Durations accept Go syntax (30s) or ISO-8601 (PT30S); sizes
// accept K, M and G suffixes.
func (c *Config) ApplyEnvOverrides() error {
	if c == nil {
		return nil
	}
	return firstError(
		applyEnv("RESUME_CHAT_SCORE_CACHE_SWEEP_INTERVAL", &c.ScoreCacheSweepInterval, ParseDuration),
		applyEnv("RESUME_CHAT_SCORE_CACHE_KEY_PREFIX", &c.ScoreCacheKeyPrefix, parseString),
		applyEnv("RESUME_CHAT_THREAD_JANITOR_INTERVAL", &c.ThreadJanitorInterval, ParseDuration),
		applyEnv("RESUME_CHAT_THREAD_JANITOR_BATCH_SIZE", &c.ThreadJanitorBatch, strconv.Atoi),
		applyEnv("RESUME_CHAT_ASSISTANT_RETRY_INITIAL_INTERVAL", &c.AssistantRetryInitialInterval, ParseDuration),
		applyEnv("RESUME_CHAT_OPENAI_ORG_ID", &c.OpenAIOrgID, parseString),
		applyEnv("RESUME_CHAT_MONGO_DATABASE", &c.MongoDatabase, parseString),
		applyEnv("RESUME_CHAT_MAX_BODY_SIZE", &c.MaxBodySize, parseSize),
	)
}

// applyEnv parses key into dest when the variable is set and non-blank.
func applyEnv[T any](key string, dest *T, parse func(string) (T, error)) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func parseString(raw string) (string, error) { return raw, nil }

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseDuration accepts Go durations (30s, 5m) and the ISO-8601 time subset
// PT#H#M#S.
func ParseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}
	m := isoDuration.FindStringSubmatch(strings.ToUpper(v))
	if m == nil {
		return 0, fmt.Errorf("unsupported duration %q", raw)
	}
	var total time.Duration
	for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("unsupported duration %q", raw)
		}
		total += time.Duration(n) * unit
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", raw)
	}
	return total, nil
}

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"KB", 1 << 10}, {"K", 1 << 10},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"B", 1},
}

// parseSize reads a positive byte count with an optional binary unit suffix.
func parseSize(raw string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	factor := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(v, u.suffix) {
			v, factor = strings.TrimSuffix(v, u.suffix), u.factor
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * factor, nil
}
