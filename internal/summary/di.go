package summary

import (
	"github.com/foxseedlab/kaigiroku/internal/config"
	"github.com/foxseedlab/kaigiroku/internal/llm"
	"github.com/foxseedlab/kaigiroku/internal/telemetry"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := do.MustInvoke[llm.Client](i)
		metrics := do.MustInvoke[*telemetry.Metrics](i)
		return NewRegistry(client, Config{
			Model:       cfg.LLMOutlineModel,
			RecentLines: cfg.SummaryRecentLines,
			IdleTTL:     cfg.SummaryIdleTTL,
		}, metrics), nil
	})
}
