package config

import (
	"reflect"
	"sort"
	"strings"

	logx "courier/pkg/logx"
)

// SummarizeChange returns a compact sorted list of changed sections plus safe
// structured attrs for logging. Secrets (tokens, api keys, passwords) are
// reported as presence flags only.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Contacts.Path) != strings.TrimSpace(newCfg.Contacts.Path) {
		changed = append(changed, "contacts")
		attrs = append(attrs, logx.String("contacts.path", strings.TrimSpace(newCfg.Contacts.Path)))
	}

	// Delivery log. Nil means disabled.
	oDL, nDL := derefDeliveryLog(oldCfg.DeliveryLog), derefDeliveryLog(newCfg.DeliveryLog)
	if oDL != nDL {
		changed = append(changed, "delivery_log")
		attrs = append(attrs,
			logx.String("delivery_log.driver", strings.TrimSpace(nDL.Driver)),
			logx.Bool("delivery_log.path_set", strings.TrimSpace(nDL.Path) != ""),
		)
	}

	oEng, nEng := derefEngine(oldCfg.Engine), derefEngine(newCfg.Engine)
	oEnabled := engineEnabled(oldCfg.Engine)
	nEnabled := engineEnabled(newCfg.Engine)
	if oEnabled != nEnabled || !reflect.DeepEqual(oEng, nEng) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.enabled", nEnabled),
			logx.Int("engine.workers", nEng.Workers),
			logx.Int("engine.queue_size", nEng.QueueSize),
			logx.Int("engine.history_size", nEng.HistorySize),
		)
	}

	// Channels: report which providers flipped, never their credentials.
	if chs := diffChannels(oldCfg.Channels, newCfg.Channels); len(chs) > 0 {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Any("channels.changed", chs),
			logx.Int("channels.configured", countChannels(newCfg.Channels)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Strategies, newCfg.Strategies) {
		changed = append(changed, "strategies")
		attrs = append(attrs, logx.Int("strategies.count", len(newCfg.Strategies)))
	}

	oCmp, nCmp := derefCampaigns(oldCfg.Campaigns), derefCampaigns(newCfg.Campaigns)
	if !reflect.DeepEqual(oCmp, nCmp) {
		changed = append(changed, "campaigns")
		attrs = append(attrs,
			logx.Bool("campaigns.enabled", nCmp.Enabled),
			logx.Int("campaigns.count", len(nCmp.Items)),
		)
	}

	// Ops (never log token)
	oOps, nOps := derefOps(oldCfg.Ops), derefOps(newCfg.Ops)
	if oOps != nOps {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", nOps.Enabled),
			logx.String("ops.addr", strings.TrimSpace(nOps.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(nOps.Token) != ""),
			logx.Bool("ops.allow_insecure", nOps.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefOps(c *OpsConfig) OpsConfig {
	if c == nil {
		return OpsConfig{}
	}
	return *c
}

func derefDeliveryLog(c *DeliveryLogConfig) DeliveryLogConfig {
	if c == nil {
		return DeliveryLogConfig{}
	}
	return *c
}

// engineEnabled reports the effective flag: an omitted field means enabled.
func engineEnabled(c *EngineConfig) bool {
	return c == nil || c.Enabled == nil || *c.Enabled
}

func derefEngine(c *EngineConfig) EngineConfig {
	if c == nil {
		return EngineConfig{}
	}
	out := *c
	out.Enabled = nil
	return out
}

func derefCampaigns(c *CampaignsConfig) CampaignsConfig {
	if c == nil {
		return CampaignsConfig{}
	}
	return *c
}

func diffChannels(o, n ChannelsConfig) []string {
	var out []string
	if !equalPtr(o.Telegram, n.Telegram) {
		out = append(out, "telegram")
	}
	if !equalPtr(o.Bot, n.Bot) {
		out = append(out, "bot")
	}
	if !equalPtr(o.SMS, n.SMS) {
		out = append(out, "sms")
	}
	if !equalPtr(o.Email, n.Email) {
		out = append(out, "email")
	}
	return out
}

func equalPtr[T comparable](a, b *T) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}

func countChannels(c ChannelsConfig) int {
	n := 0
	if c.Telegram != nil {
		n++
	}
	if c.Bot != nil {
		n++
	}
	if c.SMS != nil {
		n++
	}
	if c.Email != nil {
		n++
	}
	return n
}
