package llm

import (
	"github.com/foxseedlab/kaigiroku/internal/config"
	"github.com/foxseedlab/kaigiroku/internal/llm"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (llm.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewOpenAICompatibleClient(Config{
			BaseURL: c.LLMBaseURL,
			APIKey:  c.LLMAPIKey,
			Timeout: c.LLMRequestTimeout,
		}), nil
	})
}
