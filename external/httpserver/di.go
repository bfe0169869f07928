package httpserver

import (
	"github.com/foxseedlab/kaigiroku/internal/config"
	"github.com/foxseedlab/kaigiroku/internal/llm"
	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/session"
	"github.com/foxseedlab/kaigiroku/internal/summary"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		h := NewHandler(Deps{
			Sessions:     do.MustInvoke[*session.Manager](i),
			Archive:      do.MustInvoke[repository.Repository](i),
			Files:        do.MustInvoke[transcriber.FileTranscriber](i),
			LLM:          do.MustInvoke[llm.Client](i),
			Outlines:     do.MustInvoke[*summary.Registry](i),
			Gatherer:     do.MustInvoke[*prometheus.Registry](i),
			Languages:    cfg.RecognitionLanguages,
			Model:        cfg.LLMModel,
			OutlineModel: cfg.LLMOutlineModel,
		})
		return NewServer(cfg.ListenAddr, h), nil
	})
}
