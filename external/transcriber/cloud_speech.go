package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/kaigiroku/internal/audio"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

var ErrStreamClosed = errors.New("recognition audio stream is closed")

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	location        string
	model           string
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) *CloudSpeechTranscriber {
	return &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        strings.TrimSpace(cfg.Location),
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (t *CloudSpeechTranscriber) newClient(ctx context.Context) (*speech.Client, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}
	return speech.NewClient(ctx, opts...)
}

func (t *CloudSpeechTranscriber) recognizerName() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location)
}

func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, sessionID string, languages []string, events transcriber.Events) (transcriber.Recognition, error) {
	slog.Info("starting cloud speech streaming", "session_id", sessionID, "location", t.location, "languages", languages, "model", t.model)

	streamCtx, cancel := context.WithCancel(ctx)
	client, err := t.newClient(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	recognizer := t.recognizerName()
	openStream := func() (speechpb.Speech_StreamingRecognizeClient, error) {
		stream, err := client.StreamingRecognize(streamCtx)
		if err != nil {
			return nil, err
		}
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			Recognizer: recognizer,
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: &speechpb.StreamingRecognitionConfig{
					Config: &speechpb.RecognitionConfig{
						Model:         t.model,
						LanguageCodes: languages,
						DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
							ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
								Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
								SampleRateHertz:   audio.SampleRateHertz,
								AudioChannelCount: audio.ChannelCount,
							},
						},
						Features: &speechpb.RecognitionFeatures{},
					},
					StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
				},
			},
		}); err != nil {
			_ = stream.CloseSend()
			return nil, err
		}
		return stream, nil
	}

	stream, err := openStream()
	if err != nil {
		_ = client.Close()
		cancel()
		return nil, err
	}
	slog.Info("cloud speech stream initialized", "session_id", sessionID)

	r := &streamRecognition{
		sessionID:   sessionID,
		stream:      stream,
		events:      events,
		newStreamFn: openStream,
		closeFn: func() error {
			cancel()
			return client.Close()
		},
	}
	r.startReceiver(stream)
	return r, nil
}

type streamRecognition struct {
	sessionID string

	mu          sync.Mutex
	audioClosed bool
	stream      speechpb.Speech_StreamingRecognizeClient
	events      transcriber.Events
	newStreamFn func() (speechpb.Speech_StreamingRecognizeClient, error)
	closeFn     func() error

	offsetMu   sync.Mutex
	baseOffset time.Duration
	lastEnd    time.Duration

	receivers sync.WaitGroup
	stopOnce  sync.Once
	stopErr   error
}

func (r *streamRecognition) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioClosed {
		return ErrStreamClosed
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: pcm,
		},
	}
	if err := r.stream.Send(req); err != nil {
		if !isReconnectableStreamError(err) {
			return err
		}
		slog.Warn("recognition send failed with reconnectable error; reconnecting", "error", err, "session_id", r.sessionID)
		if err := r.reconnectLocked(); err != nil {
			return fmt.Errorf("reconnect stream: %w", err)
		}
		return r.stream.Send(req)
	}
	return nil
}

func (r *streamRecognition) CloseAudio() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioClosed {
		return nil
	}
	r.audioClosed = true
	return r.stream.CloseSend()
}

func (r *streamRecognition) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		if err := r.CloseAudio(); err != nil {
			slog.Warn("failed to half-close recognition stream", "error", err, "session_id", r.sessionID)
		}
		done := make(chan struct{})
		go func() {
			r.receivers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("recognition results still pending at stop", "session_id", r.sessionID)
		}
		r.stopErr = r.closeFn()
	})
	return r.stopErr
}

func (r *streamRecognition) reconnectLocked() error {
	_ = r.stream.CloseSend()
	next, err := r.newStreamFn()
	if err != nil {
		slog.Error("failed to reconnect recognition stream", "error", err, "session_id", r.sessionID)
		return err
	}
	r.offsetMu.Lock()
	r.baseOffset = r.lastEnd
	r.offsetMu.Unlock()
	r.stream = next
	r.startReceiver(next)
	slog.Info("recognition stream reconnected", "session_id", r.sessionID)
	return nil
}

func (r *streamRecognition) startReceiver(stream speechpb.Speech_StreamingRecognizeClient) {
	r.receivers.Add(1)
	go func() {
		defer r.receivers.Done()
		for {
			resp, err := stream.Recv()
			if err != nil {
				r.handleReceiveError(err)
				return
			}
			r.dispatch(resp.GetResults())
		}
	}()
}

func (r *streamRecognition) handleReceiveError(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		slog.Info("recognition receive loop stopped", "reason", err.Error(), "session_id", r.sessionID)
		return
	}
	if isReconnectableStreamError(err) {
		slog.Warn("recognition receive loop ended with reconnectable abort", "error", err, "session_id", r.sessionID)
		return
	}
	r.events.OnCanceled(transcriber.CancelReasonError, err.Error())
}

func (r *streamRecognition) dispatch(results []*speechpb.StreamingRecognitionResult) {
	var interim []string
	for _, result := range results {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		if !result.GetIsFinal() {
			interim = append(interim, text)
			continue
		}
		offset, duration := r.advance(result.GetResultEndOffset().AsDuration())
		r.events.OnFinal(transcriber.FinalResult{
			Text:     text,
			Language: result.GetLanguageCode(),
			Offset:   offset,
			Duration: duration,
		})
	}
	if len(interim) > 0 {
		r.events.OnInterim(strings.Join(interim, " "))
	}
}

// advance converts a stream-relative end offset into an absolute span that
// starts where the previous final result ended.
func (r *streamRecognition) advance(streamEnd time.Duration) (time.Duration, time.Duration) {
	r.offsetMu.Lock()
	defer r.offsetMu.Unlock()
	start := r.lastEnd
	end := r.baseOffset + streamEnd
	if end < start {
		end = start
	}
	r.lastEnd = end
	return start, end - start
}

func (t *CloudSpeechTranscriber) TranscribeFile(ctx context.Context, data []byte, languages []string) ([]transcriber.Utterance, error) {
	client, err := t.newClient(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = client.Close()
	}()

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: t.recognizerName(),
		Config: &speechpb.RecognitionConfig{
			Model:          t.model,
			LanguageCodes:  languages,
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{}},
			Features:       &speechpb.RecognitionFeatures{},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: data},
	})
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	var (
		out     []transcriber.Utterance
		lastEnd time.Duration
	)
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 || strings.TrimSpace(alts[0].GetTranscript()) == "" {
			continue
		}
		end := result.GetResultEndOffset().AsDuration()
		if end < lastEnd {
			end = lastEnd
		}
		out = append(out, transcriber.Utterance{
			Text:     strings.TrimSpace(alts[0].GetTranscript()),
			Language: result.GetLanguageCode(),
			Offset:   lastEnd,
			Duration: end - lastEnd,
		})
		lastEnd = end
	}
	return out, nil
}

func isReconnectableStreamError(err error) bool {
	if errors.Is(err, io.EOF) || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
