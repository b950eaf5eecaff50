package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/repoqa/internal/config"
	"github.com/dshills/repoqa/internal/docs"
	"github.com/dshills/repoqa/internal/embedder"
	"github.com/dshills/repoqa/internal/indexer"
	"github.com/dshills/repoqa/internal/llm"
	"github.com/dshills/repoqa/internal/metrics"
	"github.com/dshills/repoqa/internal/policy"
	"github.com/dshills/repoqa/internal/repoio"
	"github.com/dshills/repoqa/internal/retriever"
	"github.com/dshills/repoqa/internal/session"
	"github.com/dshills/repoqa/internal/sizer"
	"github.com/dshills/repoqa/internal/telemetry"
	"github.com/dshills/repoqa/internal/vectorstore"
	"github.com/dshills/repoqa/pkg/types"
)

// State is a pipeline stage. Stages only move forward until the next
// LoadRepo or Ingest.
type State int

const (
	StateEmpty State = iota
	StateIngested
	StateSized
	StateIndexed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateIngested:
		return "ingested"
	case StateSized:
		return "sized"
	case StateIndexed:
		return "indexed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Embedder is the embedding client the pipeline needs.
type Embedder interface {
	indexer.TextEmbedder
	retriever.QueryEmbedder
}

// Deps are the collaborators of an Orchestrator. Nil fields are built
// from the configuration.
type Deps struct {
	Logger   *slog.Logger
	Sessions session.Store
	Vectors  *vectorstore.Factory
	Embedder Embedder
	Reranker retriever.Reranker
	Answerer llm.Generator
	Docs     *docs.Writer
}

// Orchestrator drives one session through ingest, sizing, indexing and
// querying. Its methods are safe for concurrent use; pipeline runs are
// serialized by an IndexLock and a concurrent run fails fast.
type Orchestrator struct {
	cfg       config.Config
	sessionID string
	logger    *slog.Logger

	sessions  session.Store
	vectors   *vectorstore.Factory
	ownsStore bool
	reranker  retriever.Reranker
	answerer  llm.Generator
	docs      *docs.Writer
	indexer   *indexer.Indexer
	lock      indexer.IndexLock

	embedOnce sync.Once
	emb       Embedder
	embErr    error

	mu       sync.RWMutex
	state    State
	root     string
	codeMap  *types.CodeMap
	chunks   []types.Chunk
	report   *types.SizerReport
	decision *types.Decision
}

// New creates an Orchestrator for cfg. A redis session backend is
// connected eagerly; embedding clients are created on first use.
func New(ctx context.Context, cfg config.Config, deps Deps) (*Orchestrator, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sid := cfg.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	o := &Orchestrator{
		cfg:       cfg,
		sessionID: sid,
		logger:    logger.With("session", sid),
		vectors:   deps.Vectors,
		reranker:  deps.Reranker,
		answerer:  deps.Answerer,
		docs:      deps.Docs,
		indexer:   indexer.New(),
		root:      cfg.Root,
	}
	if o.root == "" {
		o.root = "."
	}
	if deps.Embedder != nil {
		o.embedOnce.Do(func() { o.emb = deps.Embedder })
	}
	if o.vectors == nil {
		o.vectors = vectorstore.NewFactory()
		o.ownsStore = true
	}

	o.sessions = deps.Sessions
	if o.sessions == nil {
		store, err := o.newSessionStore(ctx)
		if err != nil {
			return nil, err
		}
		o.sessions = store
	}
	if o.docs == nil {
		o.docs = o.newDocsWriter()
	}
	if o.reranker == nil && cfg.Rerank.Enabled {
		o.reranker = o.newReranker(ctx)
	}
	if o.answerer == nil && cfg.Answer.Model != "" {
		gen, err := llm.New(ctx, o.llmConfig(cfg.Answer.Model))
		if err != nil {
			o.logger.Warn("answer model unavailable, using extractive answers", "model", cfg.Answer.Model, "error", err)
		} else {
			o.answerer = gen
		}
	}
	return o, nil
}

func (o *Orchestrator) newSessionStore(ctx context.Context) (session.Store, error) {
	if !strings.EqualFold(o.cfg.Session.Backend, "redis") {
		return session.NewMemory(), nil
	}
	rc := o.cfg.Session.Redis
	store, err := session.NewRedis(ctx, session.RedisConfig{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		TTL:      rc.TTL,
		Restore:  o.restore,
		Logger:   o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return store, nil
}

func (o *Orchestrator) newDocsWriter() *docs.Writer {
	local := docs.NewLocal(o.cfg.Docs.Dir)
	s3cfg := o.cfg.Docs.S3
	if s3cfg.Bucket == "" || s3cfg.Endpoint == "" {
		return docs.NewWriter(local, o.logger)
	}
	mirror, err := docs.NewS3(docs.S3Config{
		Endpoint:  s3cfg.Endpoint,
		Region:    s3cfg.Region,
		AccessKey: s3cfg.AccessKey,
		SecretKey: s3cfg.SecretKey,
		Bucket:    s3cfg.Bucket,
		Prefix:    s3cfg.Prefix,
		UseSSL:    s3cfg.UseSSL,
	})
	if err != nil {
		o.logger.Warn("docs upload disabled", "error", err)
		return docs.NewWriter(local, o.logger)
	}
	return docs.NewWriter(local, o.logger, mirror)
}

func (o *Orchestrator) newReranker(ctx context.Context) retriever.Reranker {
	if o.cfg.Rerank.Model == "" {
		return nil
	}
	gen, err := llm.New(ctx, o.llmConfig(o.cfg.Rerank.Model))
	if err != nil {
		o.logger.Warn("rerank disabled", "model", o.cfg.Rerank.Model, "error", err)
		return nil
	}
	return retriever.NewLLMReranker(gen.JSON())
}

func (o *Orchestrator) llmConfig(model string) llm.Config {
	e := o.cfg.Embedding
	return llm.Config{APIKey: e.APIKey, Project: e.Project, Location: e.Location, Model: model}
}

// embedder returns the embedding client, creating it on first use.
func (o *Orchestrator) embedder(ctx context.Context) (Embedder, error) {
	o.embedOnce.Do(func() {
		e := o.cfg.Embedding
		client, err := embedder.New(ctx, embedder.Config{
			Provider:  e.Provider,
			Model:     e.Model,
			APIKey:    e.APIKey,
			BaseURL:   e.BaseURL,
			Project:   e.Project,
			Location:  e.Location,
			CacheSize: e.CacheSize,
			Logger:    o.logger,
		})
		if err != nil {
			o.embErr = err
			return
		}
		o.emb = client
	})
	return o.emb, o.embErr
}

func (o *Orchestrator) externalConfig() vectorstore.ExternalConfig {
	v := o.cfg.Vector
	return vectorstore.ExternalConfig{Kind: v.Kind, Project: v.Project, Index: v.Index, Endpoint: v.Endpoint}
}

func (o *Orchestrator) dim() int {
	if o.cfg.Embedding.Dim > 0 {
		return o.cfg.Embedding.Dim
	}
	return embedder.DefaultDim
}

func (o *Orchestrator) retrieverOptions(emb Embedder, store vectorstore.Store, backend types.Backend, cm *types.CodeMap) retriever.Options {
	opts := retriever.Options{
		Dim:          o.dim(),
		Store:        store,
		Backend:      backend,
		CodeMap:      cm,
		Reranker:     o.reranker,
		RerankTopK:   o.cfg.Rerank.TopK,
		QueryTimeout: o.cfg.Vector.QueryTimeout,
		Logger:       o.logger,
	}
	if emb != nil {
		opts.Embedder = emb
	}
	if cm != nil {
		opts.Namespace = cm.Repo + ":" + cm.Commit
	}
	return opts
}

// restore rebuilds a retriever from a persisted snapshot. Without a
// working embedder or store the rebuilt index is BM25-only.
func (o *Orchestrator) restore(ctx context.Context, snap *retriever.Snapshot) (*retriever.Retriever, error) {
	if snap == nil || snap.VectorCount == 0 {
		return retriever.Restore(ctx, snap, o.retrieverOptions(nil, nil, types.BackendInMemory, nil))
	}
	emb, err := o.embedder(ctx)
	var store vectorstore.Store
	if err == nil {
		store, err = o.storeFor(ctx, snap.Backend)
	}
	if err != nil {
		o.logger.Warn("restoring session without vectors", "kind", types.Kind(err), "error", err)
		bm25 := *snap
		bm25.Vectors, bm25.VectorCount = nil, 0
		return retriever.Restore(ctx, &bm25, o.retrieverOptions(nil, nil, snap.Backend, nil))
	}
	return retriever.Restore(ctx, snap, o.retrieverOptions(emb, store, snap.Backend, nil))
}

func (o *Orchestrator) storeFor(ctx context.Context, backend types.Backend) (vectorstore.Store, error) {
	if backend == types.BackendExternal {
		return o.vectors.External(ctx, o.externalConfig())
	}
	return o.vectors.InMemory(), nil
}

// SessionID returns the session this orchestrator registers under.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// State returns the current pipeline stage.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// CodeMap returns the ingested CodeMap, or nil before ingest.
func (o *Orchestrator) CodeMap() *types.CodeMap {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.codeMap
}

// Decision returns the sizing decision, or nil before sizing.
func (o *Orchestrator) Decision() *types.Decision {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.decision
}

// Close releases the session store and any stores this orchestrator opened.
func (o *Orchestrator) Close() error {
	errs := []error{o.sessions.Close()}
	if o.ownsStore {
		errs = append(errs, o.vectors.Close())
	}
	return errors.Join(errs...)
}

var errBusy = fmt.Errorf("%w: another pipeline run is in progress", types.ErrInvalidState)

// run wraps one host-facing operation: a span, the operation counter and
// the conversion of an error into rec.Error.
func (o *Orchestrator) run(ctx context.Context, op string, rec *types.Record, fn func(ctx context.Context) error) {
	started := time.Now()
	ctx, span := telemetry.StartOperation(ctx, op, o.sessionID)
	defer span.End()

	err := fn(ctx)
	telemetry.RecordError(span, err)
	result := "ok"
	if err != nil {
		result = "error"
		rec.Fail(err)
		rec.Logf("%s failed: %s", op, types.Kind(err))
		o.logger.Error("operation failed", "op", op, "kind", types.Kind(err), "error", err)
	}
	metrics.Operations.WithLabelValues(op, result).Inc()
	o.logger.Debug("operation complete", "op", op, "result", result, "duration", time.Since(started))
}

// pipeline runs fn under the index lock.
func (o *Orchestrator) pipeline(fn func() error) error {
	if !o.lock.TryAcquire() {
		return errBusy
	}
	defer o.lock.Release()
	return fn()
}

// LoadResult is returned by LoadRepo.
type LoadResult struct {
	types.Record
	Root string `json:"root"`
}

// LoadRepo sets the repository root. Remote and file:// URLs are cloned
// under <workspace>/repos; local paths are used in place. The pipeline
// resets to empty.
func (o *Orchestrator) LoadRepo(ctx context.Context, src, ref string) *LoadResult {
	res := &LoadResult{}
	o.run(ctx, "load_repo", &res.Record, func(ctx context.Context) error {
		return o.pipeline(func() error {
			root := src
			if repoio.IsRemote(src) {
				res.Logf("cloning %s", src)
				p, err := repoio.CloneRepo(ctx, o.cfg.Workspace, src, ref)
				if err != nil {
					return err
				}
				root = p
			} else {
				real, err := repoio.RealRoot(src)
				if err != nil {
					return err
				}
				root = real
			}
			if err := o.sessions.Drop(ctx, o.sessionID); err != nil {
				return err
			}
			o.mu.Lock()
			o.root = root
			o.state = StateEmpty
			o.codeMap, o.chunks, o.report, o.decision = nil, nil, nil, nil
			o.mu.Unlock()
			res.Root = root
			res.Logf("repository root set to %s", root)
			return nil
		})
	})
	return res
}

// IngestResult is returned by Ingest.
type IngestResult struct {
	types.Record
	Repo         string   `json:"repo"`
	Commit       string   `json:"commit"`
	Files        []string `json:"files"`
	ChunkCount   int      `json:"chunk_count"`
	FilesSkipped int      `json:"files_skipped"`
}

// Ingest enumerates and chunks the repository.
func (o *Orchestrator) Ingest(ctx context.Context) *IngestResult {
	res := &IngestResult{}
	o.run(ctx, "ingest", &res.Record, func(ctx context.Context) error {
		return o.pipeline(func() error {
			out, err := o.ingest(ctx, &res.Record)
			if err != nil {
				return err
			}
			res.Repo = out.CodeMap.Repo
			res.Commit = out.CodeMap.Commit
			res.Files = out.CodeMap.Files
			res.ChunkCount = len(out.Chunks)
			res.FilesSkipped = out.Stats.FilesSkipped
			return nil
		})
	})
	return res
}

func (o *Orchestrator) ingest(ctx context.Context, rec *types.Record) (*indexer.Result, error) {
	o.mu.RLock()
	root := o.root
	o.mu.RUnlock()

	rec.Logf("ingesting repo at %s", root)
	out, err := o.indexer.Ingest(ctx, root, indexer.Options{
		Include:      o.cfg.Ingest.Include,
		Exclude:      o.cfg.Ingest.Exclude,
		MaxFileBytes: o.cfg.Ingest.MaxFileBytes,
		Logger:       o.logger,
	})
	if err != nil {
		return nil, err
	}
	rec.Logf("found %d files @ commit %s", len(out.CodeMap.Files), out.CodeMap.Commit)
	if n := out.Stats.FilesSkipped; n > 0 {
		rec.Logf("skipped %d unreadable files", n)
	}

	o.mu.Lock()
	o.root = out.Root
	o.codeMap = out.CodeMap
	o.chunks = out.Chunks
	o.report, o.decision = nil, nil
	o.state = StateIngested
	o.mu.Unlock()
	return out, nil
}

// SizeResult is returned by SizeAndDecide.
type SizeResult struct {
	types.Record
	Report   types.SizerReport `json:"report"`
	Decision types.Decision    `json:"decision"`
}

// SizeAndDecide measures the ingested files and applies the policy. With
// auto-drive on, a missing ingest is run first.
func (o *Orchestrator) SizeAndDecide(ctx context.Context) *SizeResult {
	res := &SizeResult{}
	o.run(ctx, "size_and_decide", &res.Record, func(ctx context.Context) error {
		return o.pipeline(func() error {
			if err := o.driveTo(ctx, StateIngested, &res.Record); err != nil {
				return err
			}
			report, decision, err := o.sizeAndDecide(&res.Record)
			if err != nil {
				return err
			}
			res.Report, res.Decision = report, decision
			return nil
		})
	})
	return res
}

func (o *Orchestrator) sizeAndDecide(rec *types.Record) (types.SizerReport, types.Decision, error) {
	o.mu.RLock()
	root, cm := o.root, o.codeMap
	o.mu.RUnlock()

	rec.Logf("sizing repo...")
	report, err := sizer.Measure(root, cm.Files, sizer.Options{
		ChunkLOC:     o.cfg.Chunking.ChunkLOC,
		OverlapLOC:   o.cfg.Chunking.OverlapLOC,
		MaxFileBytes: o.cfg.Ingest.MaxFileBytes,
		Logger:       o.logger,
	})
	if err != nil {
		return types.SizerReport{}, types.Decision{}, err
	}
	decision := policy.Decide(report, policy.Inputs{
		ExpectedConcurrentSessions: o.cfg.Policy.ExpectedConcurrentSessions,
		ReuseRepoAcrossSessions:    o.cfg.Policy.ReuseAcrossSessions,
	})
	rec.Logf("decision: use_embeddings=%t, backend=%s", decision.UseEmbeddings, decision.Backend)
	for _, r := range decision.Reasons {
		rec.Logf("reason: %s", r)
	}

	o.mu.Lock()
	o.report, o.decision = &report, &decision
	o.state = StateSized
	o.mu.Unlock()
	return report, decision, nil
}

// IndexResult is returned by Index.
type IndexResult struct {
	types.Record
	SessionID   string        `json:"session_id"`
	VectorCount int           `json:"vector_count"`
	Backend     types.Backend `json:"backend"`
}

// Index builds the retriever and registers it under the session id.
// With auto-drive on, missing ingest and sizing are run first.
func (o *Orchestrator) Index(ctx context.Context) *IndexResult {
	res := &IndexResult{SessionID: o.sessionID}
	o.run(ctx, "index", &res.Record, func(ctx context.Context) error {
		return o.pipeline(func() error {
			if err := o.driveTo(ctx, StateSized, &res.Record); err != nil {
				return err
			}
			n, backend, err := o.index(ctx, &res.Record)
			res.VectorCount, res.Backend = n, backend
			return err
		})
	})
	return res
}

func (o *Orchestrator) index(ctx context.Context, rec *types.Record) (int, types.Backend, error) {
	o.mu.RLock()
	cm, decision := o.codeMap, *o.decision
	chunks := indexer.FilterBlank(o.chunks)
	o.mu.RUnlock()

	if len(chunks) == 0 {
		return 0, "", types.ErrIndexEmpty
	}
	rec.Logf("indexing...")

	backend := types.BackendInMemory
	var (
		emb     Embedder
		store   vectorstore.Store
		vectors [][]float32
	)
	if decision.UseEmbeddings {
		var err error
		emb, store, backend, err = o.vectorBackend(ctx, decision.Backend, rec)
		if err != nil {
			return 0, "", err
		}
	}
	if emb != nil {
		ectx, span := telemetry.StartEmbedding(ctx, o.cfg.Embedding.Provider, len(chunks), o.dim())
		var err error
		chunks, vectors, err = indexer.Embed(ectx, emb, chunks, o.dim())
		telemetry.RecordError(span, err)
		span.End()
		if err != nil {
			return 0, "", err
		}
	}

	r := retriever.New(o.retrieverOptions(emb, store, backend, cm))
	if err := r.IndexChunks(ctx, chunks, vectors); err != nil {
		return 0, "", fmt.Errorf("%w: %w", types.ErrBackendUnavailable, err)
	}
	if err := o.sessions.Put(ctx, o.sessionID, r); err != nil {
		return 0, "", err
	}

	o.mu.Lock()
	o.state = StateIndexed
	o.mu.Unlock()
	rec.Logf("indexed %d vectors using %s", len(vectors), backend)
	return len(vectors), backend, nil
}

// vectorBackend resolves the embedder and vector store for the decided
// backend. A missing embedder degrades to BM25-only when the fallback is
// enabled; a missing external store degrades to the in-memory one.
func (o *Orchestrator) vectorBackend(ctx context.Context, want types.Backend, rec *types.Record) (Embedder, vectorstore.Store, types.Backend, error) {
	emb, err := o.embedder(ctx)
	if err != nil {
		if errors.Is(err, types.ErrNotConfigured) && o.cfg.BM25Fallback {
			metrics.Degrade(metrics.ReasonEmbeddings)
			rec.Logf("embeddings not configured (%v); falling back to BM25-only", err)
			return nil, nil, types.BackendInMemory, nil
		}
		return nil, nil, "", fmt.Errorf("embeddings required by policy: %w", err)
	}

	store, err := o.storeFor(ctx, want)
	if err != nil {
		metrics.Degrade(metrics.ReasonExternalStore)
		rec.Logf("external vector backend unavailable (%s); using in_memory", types.Kind(err))
		o.logger.Warn("external vector store unavailable", "error", err)
		return emb, o.vectors.InMemory(), types.BackendInMemory, nil
	}
	return emb, store, want, nil
}

// driveTo advances the pipeline to at least target, or fails with
// InvalidState when auto-drive is off. The caller holds the index lock.
func (o *Orchestrator) driveTo(ctx context.Context, target State, rec *types.Record) error {
	for {
		cur := o.State()
		if cur >= target {
			return nil
		}
		if !o.cfg.AutoDrive {
			return fmt.Errorf("%w: pipeline is %s, %s required", types.ErrInvalidState, cur, target)
		}
		var err error
		switch cur {
		case StateEmpty:
			_, err = o.ingest(ctx, rec)
		case StateIngested:
			_, _, err = o.sizeAndDecide(rec)
		case StateSized:
			_, _, err = o.index(ctx, rec)
		}
		if err != nil {
			return err
		}
	}
}

// DropResult is returned by Drop.
type DropResult struct {
	types.Record
}

// Drop releases the session's retriever. The ingested CodeMap is kept, so
// the next query re-indexes without re-reading the repository.
func (o *Orchestrator) Drop(ctx context.Context) *DropResult {
	res := &DropResult{}
	o.run(ctx, "drop", &res.Record, func(ctx context.Context) error {
		if err := o.sessions.Drop(ctx, o.sessionID); err != nil {
			return err
		}
		o.mu.Lock()
		if o.state == StateIndexed {
			o.state = StateSized
		}
		o.mu.Unlock()
		res.Logf("session %s dropped", o.sessionID)
		return nil
	})
	return res
}
