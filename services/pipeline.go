package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"docdl/config"
	"docdl/metrics"
	"docdl/models"
	"docdl/providers"
	"docdl/storage"
	"docdl/store"
	"docdl/summarizer"
)

// Modus eines Laufs, wie er in ingest_runs.meta.mode steht.
const (
	ModeDedupe      = "dedupe"
	ModeForceEnrich = "force_enrich"
)

const artifactPDF = "pdf"

// ErrNoText wird gemeldet, wenn eine PDF keinen extrahierbaren Text enthält.
var ErrNoText = errors.New("no text extracted")

// Extractor wandelt eine heruntergeladene Datei in Klartext um.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Summarizer reichert den Text eines Berichts strukturiert an.
type Summarizer interface {
	Summarize(ctx context.Context, text, title, source string) (*summarizer.Summary, error)
}

// Artifacts nimmt die Nebenausgaben eines Laufs auf.
type Artifacts interface {
	RawWriter
	WriteDiscovered(runID string, items []models.DiscoveredItem) (string, error)
	WriteExtracted(stem, text string) (string, error)
	WriteEnriched(stem string, raw json.RawMessage) (string, error)
	WriteRunLog(runID string, v interface{}) (string, error)
}

// Mirror spiegelt heruntergeladene Dateien in einen externen Speicher.
type Mirror interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Dependencies sind die Kollaborateure der Pipeline. Mirror ist optional.
type Dependencies struct {
	Getter     providers.Getter
	Store      store.DocumentStore
	Registry   *providers.Registry
	Extractor  Extractor
	Summarizer Summarizer
	Artifacts  Artifacts
	Mirror     Mirror
}

// Options steuern einen Lauf.
type Options struct {
	Sources       []config.Source
	DedupeEnabled bool
	Workers       int
	RunTimeout    time.Duration
}

// Pipeline führt einen Ingestion-Lauf aus: Discovery über alle Quellen, dann
// pro Item resolve, download, extract, dedupe, enrich und store.
type Pipeline struct {
	deps   Dependencies
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewPipeline prüft die Abhängigkeiten und erstellt die Pipeline.
func NewPipeline(deps Dependencies, opts Options, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Getter == nil:
		return nil, errors.New("pipeline: getter is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Registry == nil:
		return nil, errors.New("pipeline: registry is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Summarizer == nil:
		return nil, errors.New("pipeline: summarizer is required")
	case deps.Artifacts == nil:
		return nil, errors.New("pipeline: artifacts are required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, opts: opts, logger: logger, now: time.Now}, nil
}

// workItem ist ein entdecktes Item zusammen mit seiner Quelle.
type workItem struct {
	source config.Source
	item   models.DiscoveredItem
}

// runState hält den veränderlichen Zustand eines Laufs.
type runState struct {
	runID    string
	counters counters
	log      runLog
	locks    *keyedMutex
}

// stageError ordnet einen Fehler der Stufe zu, in der er auftrat.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stageErr(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

func (p *Pipeline) mode() string {
	if p.opts.DedupeEnabled {
		return ModeDedupe
	}
	return ModeForceEnrich
}

// Run führt einen vollständigen Lauf aus. Fehler einzelner Quellen oder Items
// brechen den Lauf nicht ab, sie landen im Report. Wird ctx abgebrochen oder
// läuft RunTimeout ab, werden keine weiteren Items gestartet; der Laufdatensatz
// wird trotzdem abgeschlossen.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	startedAt := p.now().UTC()
	st := &runState{
		runID: fmt.Sprintf("run_%d", startedAt.Unix()),
		locks: newKeyedMutex(),
	}
	log := p.logger.With(zap.String("run_id", st.runID))
	log.Info("Starte Ingestion-Lauf", zap.Int("sources", len(p.opts.Sources)), zap.String("mode", p.mode()))

	finCtx := context.WithoutCancel(ctx)
	runCtx := ctx
	if p.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
		defer cancel()
	}

	modeMeta, _ := json.Marshal(map[string]string{"mode": p.mode()})
	err := p.deps.Store.UpsertIngestRun(finCtx, &models.IngestRun{
		RunID:        st.runID,
		StartedAt:    startedAt,
		SourcesCount: len(p.opts.Sources),
		Meta:         datatypes.JSON(modeMeta),
	})
	if err != nil {
		log.Error("Konnte Lauf nicht anlegen", zap.Error(err))
		st.log.addError(RunError{Stage: "run", Error: models.TruncateError(err.Error())})
	}

	work := p.discover(runCtx, st, log)
	p.process(runCtx, st, work, log)

	return p.finish(finCtx, st, startedAt, runCtx.Err() != nil, log), nil
}

// discover ruft die Discovery aller Quellen auf. Ein Fehler betrifft nur die
// jeweilige Quelle.
func (p *Pipeline) discover(ctx context.Context, st *runState, log *zap.Logger) []workItem {
	var work []workItem
	var all []models.DiscoveredItem

	for _, src := range p.opts.Sources {
		if ctx.Err() != nil {
			break
		}
		srcLog := log.With(zap.String("source_id", src.SourceID), zap.String("kind", src.Kind))

		strategy, err := p.deps.Registry.Resolve(src.Kind)
		if err == nil {
			var items []models.DiscoveredItem
			items, err = strategy.Discover(ctx, src)
			if err == nil {
				metrics.DiscoveredTotal.WithLabelValues(src.SourceID).Add(float64(len(items)))
				for _, it := range items {
					work = append(work, workItem{source: src, item: it})
				}
				all = append(all, items...)
				srcLog.Info("Discovery abgeschlossen", zap.Int("items", len(items)))
				continue
			}
		}

		metrics.DiscoveryErrorsTotal.WithLabelValues(src.SourceID).Inc()
		srcLog.Error("Discovery fehlgeschlagen", zap.Error(err))
		st.log.addError(RunError{Stage: "discover", SourceID: src.SourceID, Error: models.TruncateError(err.Error())})
	}

	st.counters.discovered.Store(int64(len(work)))
	if _, err := p.deps.Artifacts.WriteDiscovered(st.runID, all); err != nil {
		log.Warn("Konnte Discovery-Log nicht schreiben", zap.Error(err))
	}
	return work
}

// process verarbeitet die Items in Discovery-Reihenfolge, bei Workers > 1
// über einen ants-Pool.
func (p *Pipeline) process(ctx context.Context, st *runState, work []workItem, log *zap.Logger) {
	if p.opts.Workers <= 1 {
		for _, w := range work {
			if ctx.Err() != nil {
				log.Warn("Lauf abgebrochen, restliche Items werden übersprungen", zap.Error(ctx.Err()))
				return
			}
			p.processItem(ctx, st, w)
		}
		return
	}

	pool, err := ants.NewPool(p.opts.Workers)
	if err != nil {
		log.Error("Konnte Worker-Pool nicht anlegen, verarbeite sequentiell", zap.Error(err))
		for _, w := range work {
			if ctx.Err() != nil {
				return
			}
			p.processItem(ctx, st, w)
		}
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, w := range work {
		if ctx.Err() != nil {
			log.Warn("Lauf abgebrochen, restliche Items werden übersprungen", zap.Error(ctx.Err()))
			break
		}
		w := w
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			// Submit kann bis nach dem Abbruch blockieren; solche Items
			// wurden nie begonnen und zählen nicht.
			if ctx.Err() != nil {
				return
			}
			p.processItem(ctx, st, w)
		}); err != nil {
			wg.Done()
			p.recordFailure(ctx, st, w, ItemResult{
				SourceID: w.item.SourceID, Title: w.item.Title, DocURL: w.item.DocURL,
			}, stageErr("schedule", err))
		}
	}
	wg.Wait()
}

// processItem ist die Item-Grenze: jeder Fehler einer Stufe wird hier auf
// failed abgebildet und der Lauf geht mit dem nächsten Item weiter.
func (p *Pipeline) processItem(ctx context.Context, st *runState, w workItem) {
	unlock := st.locks.lock(w.item.DocURL)
	defer unlock()

	res := ItemResult{SourceID: w.item.SourceID, Title: w.item.Title, DocURL: w.item.DocURL}
	outcome, err := p.safeRunStages(ctx, st, w, &res)
	if err != nil {
		p.recordFailure(ctx, st, w, res, err)
		return
	}

	res.Outcome = outcome
	st.counters.add(outcome)
	st.log.addItem(res)
	metrics.ItemsTotal.WithLabelValues(w.item.SourceID, string(outcome)).Inc()
	p.logger.Info("Item verarbeitet",
		zap.String("run_id", st.runID),
		zap.String("doc_url", w.item.DocURL),
		zap.String("outcome", string(outcome)))
}

// safeRunStages wandelt eine Panic in einem Kollaborateur in einen Fehler des
// Items um.
func (p *Pipeline) safeRunStages(ctx context.Context, st *runState, w workItem, res *ItemResult) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = ""
			err = stageErr("process", fmt.Errorf("recovered panic: %v", r))
		}
	}()
	return p.runStages(ctx, st, w, res)
}

func (p *Pipeline) recordFailure(ctx context.Context, st *runState, w workItem, res ItemResult, err error) {
	log := p.logger.With(zap.String("run_id", st.runID), zap.String("doc_url", w.item.DocURL))
	msg := models.TruncateError(err.Error())

	stage := "process"
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}

	res.Outcome = OutcomeFailed
	res.Error = msg
	st.counters.add(OutcomeFailed)
	st.log.addItem(res)
	st.log.addError(RunError{Stage: stage, SourceID: w.item.SourceID, DocURL: w.item.DocURL, Error: msg})
	metrics.ItemsTotal.WithLabelValues(w.item.SourceID, string(OutcomeFailed)).Inc()
	log.Error("Item fehlgeschlagen", zap.String("stage", stage), zap.Error(err))

	// Bei Abbruch des Laufs behält das Item seinen letzten Status.
	if ctx.Err() != nil {
		return
	}
	patchErr := p.deps.Store.SetIngestItemStatus(context.WithoutCancel(ctx), w.item.DocURL, models.StatusFailed, store.StatusPatch{Error: msg})
	if patchErr != nil {
		log.Warn("Konnte Fehlerstatus nicht speichern", zap.Error(patchErr))
	}
}

// runStages durchläuft die Zustandsmaschine eines Items.
func (p *Pipeline) runStages(ctx context.Context, st *runState, w workItem, res *ItemResult) (Outcome, error) {
	src, item := w.source, w.item
	log := p.logger.With(zap.String("run_id", st.runID), zap.String("doc_url", item.DocURL))
	s := p.deps.Store

	// discovered
	stored, err := s.UpsertIngestItem(ctx, &models.IngestItem{
		RunID:    st.runID,
		SourceID: src.SourceID,
		Series:   src.Series,
		Title:    item.Title,
		DocURL:   item.DocURL,
		Language: src.Language,
		Artifact: artifactPDF,
		Status:   models.StatusDiscovered,
		Meta:     itemMeta(item),
	})
	if err != nil {
		return "", stageErr("discovered", err)
	}
	tr := &itemTracker{store: s, docURL: item.DocURL, status: models.StatusDiscovered}

	// resolve
	strategy, err := p.deps.Registry.Resolve(src.Kind)
	if err != nil {
		return "", stageErr("resolve", err)
	}
	resolved, err := strategy.Resolve(ctx, src, item)
	if err != nil {
		return "", stageErr("resolve", err)
	}
	if resolved.Paywalled {
		log.Info("Dokument hinter Paywall, übersprungen")
		return skipPaywall(ctx, tr, fmt.Sprintf("paywalled: %s", item.DocURL))
	}
	res.PDFURL = resolved.PDFURL
	if err := tr.set(ctx, models.StatusDiscovered, store.StatusPatch{PDFURL: resolved.PDFURL}); err != nil {
		return "", stageErr("resolve", err)
	}

	// dedupe pre-check, nur beratend
	var prior *models.Regulation
	if p.opts.DedupeEnabled {
		prior, err = s.GetRegulationByDocURL(ctx, item.DocURL)
		if err != nil {
			log.Warn("Dedupe-Abfrage fehlgeschlagen, verarbeite vollständig", zap.Error(err))
			prior = nil
		}
	}

	// download
	pdfPath, err := Download(ctx, p.deps.Getter, p.deps.Artifacts, src.SourceID, resolved.PDFURL)
	if errors.Is(err, ErrPaywall) {
		log.Info("HTML statt PDF erhalten, übersprungen", zap.String("pdf_url", resolved.PDFURL))
		return skipPaywall(ctx, tr, err.Error())
	}
	if err != nil {
		return "", stageErr("download", err)
	}
	res.PDFPath = pdfPath

	var patch store.StatusPatch
	if p.deps.Mirror != nil {
		link, err := p.deps.Mirror.Upload(ctx, pdfPath)
		if err != nil {
			log.Warn("S3-Spiegelung fehlgeschlagen", zap.Error(err))
		} else {
			patch.StorageLink = link
		}
	}
	if err := tr.set(ctx, models.StatusDownloaded, patch); err != nil {
		return "", stageErr("download", err)
	}

	// extract
	text, err := p.deps.Extractor.Extract(ctx, pdfPath)
	if err != nil {
		return "", stageErr("extract", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", stageErr("extract", ErrNoText)
	}
	stem := storage.Stem(pdfPath)
	textPath, err := p.deps.Artifacts.WriteExtracted(stem, text)
	if err != nil {
		return "", stageErr("extract", err)
	}
	res.TextPath = textPath

	hash := ContentHash(text)
	length := utf8.RuneCountInString(text)
	res.ContentHash = hash
	err = tr.set(ctx, models.StatusExtracted, store.StatusPatch{
		ContentHash:   hash,
		RawTextLength: &length,
	})
	if err != nil {
		return "", stageErr("extract", err)
	}

	// dedupe decision
	if p.opts.DedupeEnabled && prior != nil && prior.ContentHash == hash {
		log.Info("Inhalt unverändert, Anreicherung übersprungen")
		if err := tr.set(ctx, models.StatusStored, store.StatusPatch{}); err != nil {
			return "", stageErr("dedupe", err)
		}
		return OutcomeSkippedUnchanged, nil
	}

	// enrich
	summary, err := p.deps.Summarizer.Summarize(ctx, text, item.Title, src.SourceID)
	if err != nil {
		return "", stageErr("enrich", err)
	}
	enrichedPath, err := p.deps.Artifacts.WriteEnriched(stem, summaryJSON(summary))
	if err != nil {
		return "", stageErr("enrich", err)
	}
	res.EnrichedPath = enrichedPath
	if err := tr.set(ctx, models.StatusEnriched, store.StatusPatch{}); err != nil {
		return "", stageErr("enrich", err)
	}

	// store
	if stored == nil || stored.ID == uuid.Nil {
		return "", stageErr("store", ErrMissingIngestItemID)
	}
	reg, err := buildRegulation(stored.ID, src, item, resolved.PDFURL, summary, length, hash)
	if err != nil {
		return "", stageErr("store", err)
	}
	if err := s.UpsertRegulation(ctx, reg); err != nil {
		return "", stageErr("store", err)
	}
	if err := tr.set(ctx, models.StatusStored, store.StatusPatch{}); err != nil {
		return "", stageErr("store", err)
	}
	return OutcomeProcessed, nil
}

// itemTracker schreibt Statuswechsel eines Items und verweigert jeden Wechsel
// nach einem Endstatus.
type itemTracker struct {
	store  store.DocumentStore
	docURL string
	status models.ItemStatus
}

func (t *itemTracker) set(ctx context.Context, status models.ItemStatus, patch store.StatusPatch) error {
	if t.status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalStatus, t.status, status)
	}
	if err := t.store.SetIngestItemStatus(ctx, t.docURL, status, patch); err != nil {
		return err
	}
	t.status = status
	return nil
}

func skipPaywall(ctx context.Context, tr *itemTracker, reason string) (Outcome, error) {
	err := tr.set(ctx, models.StatusSkippedPaywall, store.StatusPatch{Error: reason})
	if err != nil {
		return "", stageErr("download", err)
	}
	return OutcomeSkippedPaywall, nil
}

// finish schreibt Laufprotokoll und Zähler. ctx ist nie abgebrochen.
func (p *Pipeline) finish(ctx context.Context, st *runState, startedAt time.Time, canceled bool, log *zap.Logger) *RunReport {
	finishedAt := p.now().UTC()
	duration := math.Round(finishedAt.Sub(startedAt).Seconds()*100) / 100
	counts := st.counters.snapshot()
	items, errs := st.log.snapshot()

	report := &RunReport{
		RunID:      st.runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		DurationS:  duration,
		Mode:       p.mode(),
		Items:      items,
		Errors:     errs,
		Counts:     counts,
		Canceled:   canceled,
	}

	if _, err := p.deps.Artifacts.WriteRunLog(st.runID, report); err != nil {
		log.Warn("Konnte Laufprotokoll nicht schreiben", zap.Error(err))
	}

	meta, _ := json.Marshal(struct {
		Counts
		Mode string `json:"mode"`
	}{counts, p.mode()})
	success, fail := counts.SuccessCount(), counts.Failed
	err := p.deps.Store.UpdateIngestRun(ctx, st.runID, store.RunPatch{
		FinishedAt:   &finishedAt,
		SuccessCount: &success,
		FailCount:    &fail,
		DurationS:    &duration,
		Meta:         datatypes.JSON(meta),
	})
	if err != nil {
		log.Error("Konnte Lauf nicht abschließen", zap.Error(err))
	}

	metrics.RunsTotal.Inc()
	metrics.RunDuration.Observe(duration)
	log.Info("Ingestion-Lauf abgeschlossen",
		zap.Int("discovered", counts.Discovered),
		zap.Int("processed", counts.Processed),
		zap.Int("skipped_unchanged", counts.SkippedUnchanged),
		zap.Int("skipped_paywall", counts.SkippedPaywall),
		zap.Int("failed", counts.Failed),
		zap.Float64("duration_s", duration),
		zap.Bool("canceled", canceled))
	return report
}

func itemMeta(item models.DiscoveredItem) datatypes.JSON {
	if item.PublishedDate == nil {
		return nil
	}
	raw, err := json.Marshal(map[string]string{"published_date": item.PublishedDate.UTC().Format(time.RFC3339)})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func summaryJSON(s *summarizer.Summary) json.RawMessage {
	if len(s.Raw) > 0 {
		return s.Raw
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// jsonValue kodiert v, nil-Slices werden zu empty.
func jsonValue(v interface{}, empty string) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		raw = []byte(empty)
	}
	return datatypes.JSON(raw), nil
}

func buildRegulation(itemID uuid.UUID, src config.Source, item models.DiscoveredItem, pdfURL string, s *summarizer.Summary, length int, hash string) (*models.Regulation, error) {
	reg := &models.Regulation{
		IngestItemID:  itemID,
		DocURL:        item.DocURL,
		SourceID:      src.SourceID,
		Series:        src.Series,
		Title:         item.Title,
		PDFURL:        pdfURL,
		Language:      src.Language,
		Summary:       s.Summary,
		ImpactLevel:   s.ImpactLevel,
		Confidence:    s.Confidence,
		RawTextLength: length,
		ContentHash:   hash,
	}
	fields := []struct {
		dst   *datatypes.JSON
		v     interface{}
		empty string
	}{
		{&reg.KeyPoints, s.KeyPoints, "[]"},
		{&reg.KeyNumbers, s.KeyNumbers, "[]"},
		{&reg.Topics, s.Topics, "[]"},
		{&reg.Countries, s.Countries, "[]"},
		{&reg.Dates, s.Dates, "{}"},
	}
	for _, f := range fields {
		v, err := jsonValue(f.v, f.empty)
		if err != nil {
			return nil, fmt.Errorf("encode regulation fields: %w", err)
		}
		*f.dst = v
	}
	return reg, nil
}
