package app

import (
	"context"
	"strings"

	"portalshot/internal/config"
	logx "portalshot/pkg/logx"
)

// applyConfigLoop applies hot-reloadable sections as new configs arrive.
// retries, schedule, notify, storage and systemd keep their startup values.
func (a *App) applyConfigLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied, _ := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			lastApplied = a.applyConfig(lastApplied, newCfg)
		}
	}
}

// applyConfig returns the config that is now in effect.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) *config.Config {
	if newCfg == nil {
		return oldCfg
	}
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return newCfg
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config change applied", fields...)

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config change requires restart to take effect", logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	if ch.Has("logging") && a.logs != nil {
		a.logs.Apply(newCfg.Logging.Logx())
	}

	if ch.Has("login") || ch.Has("screenshot") || ch.Has("browser") {
		r, err := config.Resolve(newCfg)
		if err != nil {
			// The manager validates before publishing, so this is unexpected.
			a.log.Warn("config change not applied", logx.Err(err))
			return oldCfg
		}
		a.capt.Apply(captureSettings(newCfg, r))
		a.log.Info("capture settings updated")
	}
	return newCfg
}
