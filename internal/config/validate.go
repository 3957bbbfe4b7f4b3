package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"regionscan/internal/remote"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and every duration field.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	fields := map[string]string{
		"storage.busy_timeout": c.Storage.BusyTimeout,
		"remote.latency":       c.Remote.Latency,
		"scan.delay":           c.Scan.Delay,
		"scan.retry.base":      c.Scan.Retry.Base,
		"scan.retry.max_delay": c.Scan.Retry.MaxDelay,
		"progress.interval":    c.Progress.Interval,
	}
	for i, t := range c.Scan.Targets {
		fields[fmt.Sprintf("scan.targets[%d].delay", i)] = t.Delay
	}
	var errs []error
	for path, raw := range fields {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScanTarget is one expanded target with its effective pacer delay.
type ScanTarget struct {
	Target remote.Target
	Delay  time.Duration
}

// Targets expands scan.targets into unique targets, in file order. A target
// listed twice keeps its first delay.
func (c *Config) Targets() ([]ScanTarget, error) {
	def, err := ParseDurationOrDefault("scan.delay", c.Scan.Delay, DefaultScanDelay)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []ScanTarget
	for i, tc := range c.Scan.Targets {
		d, err := ParseDurationOrDefault(fmt.Sprintf("scan.targets[%d].delay", i), tc.Delay, def)
		if err != nil {
			return nil, err
		}
		for _, region := range tc.Regions {
			for _, svc := range tc.Services {
				t := remote.Target{
					Account: strings.TrimSpace(tc.Account),
					Region:  strings.TrimSpace(region),
					Service: strings.TrimSpace(svc),
				}
				if !t.Valid() || seen[t.Key()] {
					continue
				}
				seen[t.Key()] = true
				out = append(out, ScanTarget{Target: t, Delay: d})
			}
		}
	}
	return out, nil
}
