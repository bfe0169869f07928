package session

import (
	"github.com/foxseedlab/kaigiroku/internal/config"
	"github.com/foxseedlab/kaigiroku/internal/correction"
	"github.com/foxseedlab/kaigiroku/internal/llm"
	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/summary"
	"github.com/foxseedlab/kaigiroku/internal/telemetry"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	"github.com/foxseedlab/kaigiroku/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		wh := do.MustInvoke[webhook.Sender](i)
		registry := do.MustInvoke[*summary.Registry](i)
		metrics := do.MustInvoke[*telemetry.Metrics](i)

		var corrector Corrector
		if cfg.CorrectionEnabled {
			corrector = correction.NewCorrector(do.MustInvoke[llm.Client](i), correction.Config{
				Model:   cfg.LLMModel,
				Timeout: cfg.CorrectionTimeout,
			})
		}
		return NewManager(cfg, repo, stt, corrector, registry, wh, metrics), nil
	})
}
