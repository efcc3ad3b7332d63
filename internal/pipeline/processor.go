package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"protoscribe/internal/cache"
	"protoscribe/internal/metrics"
	"protoscribe/pkg/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// transcribeArgs keys the transcription cache by file content and
// language. The temp file path is unexported so it never reaches the key.
type transcribeArgs struct {
	FileHash string `json:"file_hash"`
	Language string `json:"language"`

	path string
}

type diarizeArgs struct {
	FileHash string `json:"file_hash"`
	Language string `json:"language"`

	path string
}

// generateArgs keys the LLM response cache by transcript content plus
// every parameter that shapes the prompt.
type generateArgs struct {
	TranscriptHash string            `json:"transcript_hash"`
	TemplateID     string            `json:"template_id"`
	Provider       string            `json:"llm_provider"`
	Language       string            `json:"language"`
	Participants   []Participant     `json:"participants"`
	MeetingTopic   string            `json:"meeting_topic"`
	MeetingDate    string            `json:"meeting_date"`
	MeetingTime    string            `json:"meeting_time"`
	SpeakerMapping map[string]string `json:"speaker_mapping"`

	input GenerateInput
}

// Processor orchestrates the expensive pipeline stages around the result
// cache. Each stage is memoized under its own cache domain, and the full
// assembled protocol is cached under full_result, so re-submitting the
// same content with the same parameters costs nothing.
type Processor struct {
	store     cache.Store
	templates *TemplateLibrary
	logger    *zap.Logger

	transcribe func(ctx context.Context, args transcribeArgs) (*TranscriptionResult, error)
	diarize    func(ctx context.Context, args diarizeArgs) (*DiarizationResult, error)
	generate   func(ctx context.Context, args generateArgs) (string, error)
}

func NewProcessor(
	store cache.Store,
	transcriber Transcriber,
	diarizer Diarizer,
	generator Generator,
	templates *TemplateLibrary,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if templates == nil {
		templates = NewTemplateLibrary()
	}

	p := &Processor{
		store:     store,
		templates: templates,
		logger:    logger.Named("pipeline"),
	}

	p.transcribe = cache.Memoized(store, cache.DomainTranscription,
		func(ctx context.Context, args transcribeArgs) (*TranscriptionResult, error) {
			return transcriber.Transcribe(ctx, args.path, args.Language)
		})

	p.diarize = cache.Memoized(store, cache.DomainDiarization,
		func(ctx context.Context, args diarizeArgs) (*DiarizationResult, error) {
			return diarizer.Diarize(ctx, args.path, args.Language)
		})

	p.generate = cache.Memoized(store, cache.DomainLLMResponse,
		func(ctx context.Context, args generateArgs) (string, error) {
			return generator.Generate(ctx, args.input)
		})

	return p
}

// Process runs one job end to end: fingerprint the file, probe the
// full-result cache, and on a miss run transcription and diarization
// concurrently, resolve speakers, generate the protocol, and cache the
// assembled result. Results are cached only after every stage succeeds,
// so a cancelled job never leaves a partial value behind.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid request: %w", err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	logger := logging.L(ctx).With(
		zap.String("request_id", req.ID),
		zap.String("file_name", req.FileName),
		zap.String("template_id", req.TemplateID),
	)
	start := time.Now()

	template, err := p.templates.Get(req.TemplateID)
	if err != nil {
		return nil, err
	}

	fileHash, err := p.fingerprint(req.FilePath)
	if err != nil {
		return nil, &stageError{stage: "fingerprint", err: err}
	}

	fullKey, err := cache.MakeKey(cache.DomainFullResult.Namespace, req.cacheParams(fileHash))
	if err != nil {
		return nil, &stageError{stage: "cache key", err: err}
	}

	if data, ok, err := p.store.Get(ctx, fullKey); err == nil && ok {
		var res Result
		if err := json.Unmarshal(data, &res); err == nil {
			res.RequestID = req.ID
			res.Cached = true
			logger.Info("cache_decision",
				zap.String("cache_key", fullKey),
				zap.String("file_hash", fileHash),
				zap.Bool("cache_hit", true),
				zap.Duration("total_latency", time.Since(start)),
			)
			return &res, nil
		}
		logger.Warn("cached result undecodable, reprocessing",
			zap.String("cache_key", fullKey),
			zap.Error(err),
		)
	}

	logger.Info("cache_decision",
		zap.String("cache_key", fullKey),
		zap.String("file_hash", fileHash),
		zap.Bool("cache_hit", false),
	)

	// Transcription and diarization hit independent providers; run them
	// concurrently.
	var tr *TranscriptionResult
	var di *DiarizationResult
	trErrCh := make(chan error, 1)
	diErrCh := make(chan error, 1)

	go func() {
		var err error
		tr, err = p.runTranscription(ctx, transcribeArgs{
			FileHash: fileHash,
			Language: req.Language,
			path:     req.FilePath,
		})
		trErrCh <- err
	}()

	go func() {
		var err error
		di, err = p.runDiarization(ctx, diarizeArgs{
			FileHash: fileHash,
			Language: req.Language,
			path:     req.FilePath,
		})
		diErrCh <- err
	}()

	trErr := <-trErrCh
	diErr := <-diErrCh
	if trErr != nil {
		return nil, &stageError{stage: "transcription", err: trErr}
	}
	if diErr != nil {
		return nil, &stageError{stage: "diarization", err: diErr}
	}

	speakers := resolveSpeakers(di, req.SpeakerMapping)
	transcript := formatTranscript(tr, di, speakers)

	transcriptHash, err := cache.Fingerprint(strings.NewReader(transcript))
	if err != nil {
		return nil, &stageError{stage: "transcript hash", err: err}
	}

	protocol, err := p.runGeneration(ctx, generateArgs{
		TranscriptHash: transcriptHash,
		TemplateID:     req.TemplateID,
		Provider:       req.Provider,
		Language:       req.Language,
		Participants:   req.Participants,
		MeetingTopic:   req.MeetingTopic,
		MeetingDate:    req.MeetingDate,
		MeetingTime:    req.MeetingTime,
		SpeakerMapping: req.SpeakerMapping,
		input: GenerateInput{
			Template:     template,
			Transcript:   transcript,
			Language:     req.Language,
			Participants: req.Participants,
			MeetingTopic: req.MeetingTopic,
			MeetingDate:  req.MeetingDate,
			MeetingTime:  req.MeetingTime,
			Speakers:     speakers,
		},
	})
	if err != nil {
		return nil, &stageError{stage: "protocol generation", err: err}
	}

	result := &Result{
		RequestID:     req.ID,
		FileHash:      fileHash,
		TemplateID:    req.TemplateID,
		Protocol:      protocol,
		Transcription: tr.Transcription,
		Speakers:      speakers,
		TotalSpeakers: di.TotalSpeakers,
		GeneratedAt:   time.Now(),
	}

	data, err := json.Marshal(result)
	if err != nil {
		// The result still reaches the caller; only caching is skipped.
		logger.Warn("result not serializable, skipping cache", zap.Error(err))
	} else if err := p.store.Set(ctx, fullKey, data, cache.DomainFullResult.TTL, cache.DomainFullResult.Namespace); err != nil {
		logger.Warn("result not cached", zap.Error(err))
	}

	logger.Info("processing complete",
		zap.String("file_hash", fileHash),
		zap.Int("protocol_len", len(protocol)),
		zap.Int("total_speakers", di.TotalSpeakers),
		zap.Duration("total_latency", time.Since(start)),
	)

	return result, nil
}

func (p *Processor) fingerprint(path string) (string, error) {
	timer := time.Now()
	hash, err := cache.FingerprintFile(path)
	metrics.PipelineStageSeconds.WithLabelValues("fingerprint").Observe(time.Since(timer).Seconds())
	return hash, err
}

func (p *Processor) runTranscription(ctx context.Context, args transcribeArgs) (*TranscriptionResult, error) {
	timer := time.Now()
	tr, err := p.transcribe(ctx, args)
	metrics.PipelineStageSeconds.WithLabelValues("transcription").Observe(time.Since(timer).Seconds())
	return tr, err
}

func (p *Processor) runDiarization(ctx context.Context, args diarizeArgs) (*DiarizationResult, error) {
	timer := time.Now()
	di, err := p.diarize(ctx, args)
	metrics.PipelineStageSeconds.WithLabelValues("diarization").Observe(time.Since(timer).Seconds())
	return di, err
}

func (p *Processor) runGeneration(ctx context.Context, args generateArgs) (string, error) {
	timer := time.Now()
	protocol, err := p.generate(ctx, args)
	metrics.PipelineStageSeconds.WithLabelValues("llm_generation").Observe(time.Since(timer).Seconds())
	return protocol, err
}
