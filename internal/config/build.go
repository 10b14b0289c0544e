package config

import (
	"fmt"
	"strings"
	"time"

	"courier/internal/campaign"
	"courier/internal/deliverylog"
	"courier/internal/dispatch"
	"courier/internal/ops"
	logx "courier/pkg/logx"
)

// This file maps the on-disk document onto the runtime config types of the
// packages that consume it. Mapping lives here so duration strings are parsed
// and validated in one place, before anything is applied.

func (c *Config) BuildLogging() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) BuildDeliveryLog() (deliverylog.Config, error) {
	if c.DeliveryLog == nil {
		return deliverylog.Config{}, nil
	}
	busy, err := ParseDurationField("delivery_log.busy_timeout", c.DeliveryLog.BusyTimeout)
	if err != nil {
		return deliverylog.Config{}, err
	}
	return deliverylog.Config{
		Driver:      c.DeliveryLog.Driver,
		Path:        c.DeliveryLog.Path,
		BusyTimeout: busy,
	}, nil
}

func (c *Config) BuildEngine() dispatch.Config {
	enabled := true
	var out dispatch.Config
	if c.Engine != nil {
		if c.Engine.Enabled != nil {
			enabled = *c.Engine.Enabled
		}
		out.Workers = c.Engine.Workers
		out.QueueSize = c.Engine.QueueSize
		out.HistorySize = c.Engine.HistorySize
	}
	out.Enabled = enabled
	return out
}

// BuildStrategyTable converts the strategies section into a validated table.
// An omitted section yields the stock escalation ladder.
func (c *Config) BuildStrategyTable() (dispatch.Table, error) {
	if len(c.Strategies) == 0 {
		return dispatch.DefaultTable(), nil
	}
	m := make(map[dispatch.Urgency]dispatch.Strategy, len(c.Strategies))
	for name, sc := range c.Strategies {
		key := strings.ToUpper(strings.TrimSpace(name))
		switch key {
		case string(dispatch.UrgencyCritical), string(dispatch.UrgencyHigh), string(dispatch.UrgencyNormal):
		default:
			return dispatch.Table{}, fmt.Errorf("strategies: unknown urgency %q", name)
		}
		at, err := ParseDurationOrDefault("strategies."+name+".attempt_timeout", sc.AttemptTimeout, 10*time.Second)
		if err != nil {
			return dispatch.Table{}, err
		}
		fd, err := ParseDurationField("strategies."+name+".fallback_delay", sc.FallbackDelay)
		if err != nil {
			return dispatch.Table{}, err
		}
		m[dispatch.Urgency(key)] = dispatch.Strategy{
			Channels:       sc.Channels,
			AttemptTimeout: at,
			FallbackDelay:  fd,
			MaxAttempts:    sc.MaxAttempts,
		}
	}
	return dispatch.NewTable(m)
}

func (c *Config) BuildCampaigns() campaign.Config {
	if c.Campaigns == nil {
		return campaign.Config{}
	}
	defs := make([]campaign.Definition, 0, len(c.Campaigns.Items))
	for _, it := range c.Campaigns.Items {
		defs = append(defs, campaign.Definition{
			Name:       it.Name,
			Schedule:   it.Schedule,
			Urgency:    it.Urgency,
			Recipients: append([]string(nil), it.Recipients...),
			Subject:    it.Subject,
			Body:       it.Body,
		})
	}
	return campaign.Config{
		Enabled:   c.Campaigns.Enabled,
		Timezone:  c.Campaigns.Timezone,
		Campaigns: defs,
	}
}

func (c *Config) BuildOps() (ops.Config, error) {
	if c.Ops == nil {
		return ops.Config{}, nil
	}
	rt, err := ParseDurationField("ops.read_timeout", c.Ops.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	wt, err := ParseDurationField("ops.write_timeout", c.Ops.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := ParseDurationField("ops.idle_timeout", c.Ops.IdleTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       c.Ops.Enabled,
		Addr:          c.Ops.Addr,
		Token:         c.Ops.Token,
		AllowInsecure: c.Ops.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

// Validate performs the cross-section checks that individual builders can't:
// the contacts path must be set and every campaign must parse. Channel and
// strategy coherence is checked at wiring time where the adapter set is known.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Contacts.Path) == "" {
		return fmt.Errorf("contacts.path is required")
	}
	if _, err := c.BuildDeliveryLog(); err != nil {
		return err
	}
	if _, err := c.BuildStrategyTable(); err != nil {
		return err
	}
	if err := campaign.Validate(c.BuildCampaigns()); err != nil {
		return err
	}
	if _, err := c.BuildOps(); err != nil {
		return err
	}
	return nil
}
