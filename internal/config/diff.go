package config

import (
	"reflect"
	"strings"

	logx "regionscan/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values of those sections.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	if oldCfg.Remote != newCfg.Remote {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.String("remote.driver", newCfg.Remote.Driver),
			logx.Float64("remote.rate_per_sec", newCfg.Remote.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scan, newCfg.Scan) {
		changed = append(changed, "scan")
		attrs = append(attrs,
			logx.String("scan.delay", newCfg.Scan.Delay),
			logx.String("scan.refresh", newCfg.Scan.Refresh),
			logx.Int("scan.target_groups", len(newCfg.Scan.Targets)),
		)
	}

	if oldCfg.Progress != newCfg.Progress {
		changed = append(changed, "progress")
		attrs = append(attrs, logx.String("progress.interval", newCfg.Progress.Interval))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
		)
	}

	return changed, attrs
}
