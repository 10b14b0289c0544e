package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"courier/internal/campaign"
	"courier/internal/config"
	logx "courier/pkg/logx"
)

// validateReload gates hot reloads. It runs the same static checks as boot,
// plus the cross-check that strategies only reference configured channels.
func (a *App) validateReload(next *config.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	table, err := next.BuildStrategyTable()
	if err != nil {
		return err
	}
	for _, ch := range table.Channels() {
		if !channelConfigured(next.Channels, ch) {
			return fmt.Errorf("strategies reference channel %q but it is not configured under channels", ch)
		}
	}
	if err := campaign.Validate(next.BuildCampaigns()); err != nil {
		return err
	}
	return nil
}

func channelConfigured(c config.ChannelsConfig, name string) bool {
	switch name {
	case "telegram":
		return c.Telegram != nil
	case "bot":
		return c.Bot != nil
	case "sms":
		return c.SMS != nil
	case "email":
		return c.Email != nil
	default:
		return false
	}
}

// applyLoop consumes validated config updates and hot-applies what can be
// hot-applied. Channel credentials and the strategy table are wired at boot;
// changing them logs a restart notice instead of half-applying.
func (a *App) applyLoop(ctx context.Context) {
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-a.cfgUpdates:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeChange(prev, next)
			if len(changed) == 0 {
				prev = next
				continue
			}
			a.log.Info("config reloaded", append([]logx.Field{logx.Any("changed", changed)}, attrs...)...)

			if slices.Contains(changed, "logging") {
				a.logs.Apply(next.BuildLogging())
			}
			if slices.Contains(changed, "engine") {
				// Apply updates gating immediately; Start is a no-op unless the
				// engine was disabled at boot and is being switched on now.
				a.engine.Apply(next.BuildEngine())
				a.engine.Start(a.runCtx)
			}
			if slices.Contains(changed, "campaigns") {
				a.campaigns.Apply(next.BuildCampaigns())
			}
			for _, section := range []string{"channels", "strategies", "contacts", "delivery_log", "ops"} {
				if slices.Contains(changed, section) {
					a.log.Warn("config section requires restart to take effect", logx.String("section", section))
				}
			}
			prev = next
		}
	}
}

// contactsRefreshLoop re-reads the address book periodically so directory
// edits land without a restart. Reload keeps the old cache on error.
func (a *App) contactsRefreshLoop(ctx context.Context) {
	const interval = time.Minute
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.directory.Reload(); err != nil {
				a.log.Warn("contacts reload failed", logx.Err(err))
			}
		}
	}
}
