package transcriber

import (
	"github.com/foxseedlab/kaigiroku/internal/config"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*CloudSpeechTranscriber, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewCloudSpeechTranscriber(CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		return do.MustInvoke[*CloudSpeechTranscriber](i), nil
	})
	do.Provide(injector, func(i do.Injector) (transcriber.FileTranscriber, error) {
		return do.MustInvoke[*CloudSpeechTranscriber](i), nil
	})
}
