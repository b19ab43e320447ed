// Package ingest drives a message through extraction, entity resolution,
// storage, embedding, and the best-effort enrichment steps, ending in a
// human-readable confirmation.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keeperhq/keeper/internal/embed"
	"github.com/keeperhq/keeper/internal/extract"
	"github.com/keeperhq/keeper/internal/milestone"
	"github.com/keeperhq/keeper/internal/relation"
	"github.com/keeperhq/keeper/internal/store"
	"github.com/keeperhq/keeper/internal/temporal"
)

// State names the pipeline stage an ingestion is in or ended at.
type State string

const (
	StateStart              State = "start"
	StateExtracting         State = "extracting"
	StateEntityResolving    State = "entity_resolving"
	StateStoring            State = "storing"
	StateEmbedding          State = "embedding"
	StateInverting          State = "inverting"
	StateMilestoneDetecting State = "milestone_detecting"
	StateConfirming         State = "confirming"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Oracle is the extraction oracle surface the pipeline needs. A nil oracle
// means extraction always uses the deterministic splitter.
type Oracle interface {
	Extract(ctx context.Context, message string, today time.Time) extract.Result
}

// Request is one message to ingest. UserID is the external identity
// (CLI username, chat user id); the pipeline resolves it to an account,
// creating one on first contact.
type Request struct {
	Message string
	UserID  string
	Source  string // voice|text|import|calendar
}

// EntityRef names an entity touched during ingestion and the relationship
// that was learned for it, if any.
type EntityRef struct {
	Name         string
	Relationship string
}

// Result is the structured outcome of one ingestion.
type Result struct {
	Success          bool
	Response         string
	State            State
	FactIDs          []string
	FactsStored      int
	EntitiesCreated  []EntityRef
	ExtractionSource string // "oracle" or "fallback"
	ExecutionTimeMs  int64
}

// Pipeline wires the extraction tiers, the store, and the embedder into
// the ingestion state machine.
type Pipeline struct {
	store    *store.Store
	oracle   Oracle
	embedder embed.Embedder
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipeline creates an ingestion pipeline. oracle may be nil
// (fallback-only extraction); logger may be nil.
func NewPipeline(st *store.Store, oracle Oracle, embedder embed.Embedder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    st,
		oracle:   oracle,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}
}

// storedFact carries a persisted fact through the enrichment stages.
type storedFact struct {
	id       string
	fact     extract.Fact
	tier     int
	tags     []string
	entityID string
}

// Ingest runs the full state machine for one message. Only account
// resolution and a complete storage failure are fatal; enrichment failures
// degrade to log lines.
func (p *Pipeline) Ingest(ctx context.Context, req Request) Result {
	start := p.now()
	elapsed := func() int64 { return time.Since(start).Milliseconds() }

	if strings.TrimSpace(req.Message) == "" {
		return Result{
			Success:         false,
			State:           StateFailed,
			Response:        "There's nothing to save in an empty message.",
			ExecutionTimeMs: elapsed(),
		}
	}
	if req.Source == "" {
		req.Source = "text"
	}

	user, err := p.store.GetOrCreateUser(ctx, req.UserID, req.Source)
	if err != nil {
		return Result{
			Success:         false,
			State:           StateFailed,
			Response:        fmt.Sprintf("Sorry, I couldn't identify your account: %v", err),
			ExecutionTimeMs: elapsed(),
		}
	}

	// Extracting. The oracle-vs-fallback decision happens once per
	// ingestion, never per fact.
	facts, entities, source := p.extractFacts(ctx, req.Message, start)

	// EntityResolving: distinct names fan out; the store's uniqueness
	// constraint makes concurrent resolution safe.
	entityMap := p.resolveEntities(ctx, user.ID, entities)

	// Storing. A failed fact is dropped and the rest continue.
	stored := p.storeFacts(ctx, user.ID, req.Source, facts, entityMap)
	if len(stored) == 0 {
		return Result{
			Success:          false,
			State:            StateFailed,
			Response:         "Sorry, I couldn't save that information.",
			ExtractionSource: source,
			ExecutionTimeMs:  elapsed(),
		}
	}

	// Embedding and tagging fan out per stored fact.
	p.embedAndTag(ctx, stored)

	// Inverting and MilestoneDetecting are best-effort: failures are
	// logged and never block the confirmation.
	p.invertRelationships(ctx, user, req.Source, stored)
	eventTitles := p.detectMilestones(ctx, user.ID, stored)

	// Confirming.
	created := createdEntities(entities)
	result := Result{
		Success:          true,
		State:            StateDone,
		Response:         renderConfirmation(stored, created, eventTitles),
		FactsStored:      len(stored),
		EntitiesCreated:  created,
		ExtractionSource: source,
		ExecutionTimeMs:  elapsed(),
	}
	for _, sf := range stored {
		result.FactIDs = append(result.FactIDs, sf.id)
	}
	return result
}

// extractFacts runs the oracle tier and, on low confidence or an empty
// fact list, the deterministic splitter. Fallback facts get their temporal
// phrases resolved and annotated; the oracle resolves dates itself.
func (p *Pipeline) extractFacts(ctx context.Context, message string, today time.Time) ([]extract.Fact, []extract.Entity, string) {
	if p.oracle != nil {
		result := p.oracle.Extract(ctx, message, today)
		if len(result.Facts) > 0 && result.Confidence >= extract.ConfidenceThreshold {
			return result.Facts, oracleEntities(result.Facts), "oracle"
		}
		p.logger.Debug("oracle extraction fell through",
			zap.String("source", result.Source),
			zap.Float64("confidence", result.Confidence))
	}

	facts := extract.SplitFallback(message)
	for i := range facts {
		annotated, res := temporal.Annotate(facts[i].Content, today)
		facts[i].Content = annotated
		if res.ValidFrom != nil {
			facts[i].ValidFrom = res.ValidFrom.Format("2006-01-02")
		}
		if res.ValidTo != nil {
			facts[i].ValidTo = res.ValidTo.Format("2006-01-02")
		}
	}
	return facts, extract.Entities(message), "fallback"
}

// oracleEntities collects distinct named entities from oracle facts.
func oracleEntities(facts []extract.Fact) []extract.Entity {
	var entities []extract.Entity
	seen := map[string]struct{}{}
	for _, f := range facts {
		if f.EntityName == "" {
			continue
		}
		if _, ok := seen[f.EntityName]; ok {
			continue
		}
		seen[f.EntityName] = struct{}{}
		entityType := f.EntityType
		if entityType == "" {
			entityType = "person"
		}
		entities = append(entities, extract.Entity{
			Name:         f.EntityName,
			Type:         entityType,
			Relationship: f.Relationship,
		})
	}
	return entities
}

func (p *Pipeline) resolveEntities(ctx context.Context, ownerID string, entities []extract.Entity) map[string]string {
	entityMap := make(map[string]string, len(entities))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, e := range entities {
		wg.Add(1)
		go func(e extract.Entity) {
			defer wg.Done()
			resolved, err := p.store.ResolveEntity(ctx, ownerID, e.Name, e.Type, e.Relationship)
			if err != nil {
				p.logger.Warn("entity resolution failed",
					zap.String("entity", e.Name), zap.Error(err))
				return
			}
			mu.Lock()
			entityMap[e.Name] = resolved.ID
			mu.Unlock()
		}(e)
	}
	wg.Wait()
	return entityMap
}

func (p *Pipeline) storeFacts(ctx context.Context, ownerID, source string, facts []extract.Fact, entityMap map[string]string) []storedFact {
	var stored []storedFact
	for _, f := range facts {
		tier := ClassifyVisibility(f.Content)
		importance := AssignImportance(f.Content)
		entityID := entityMap[f.EntityName]

		id, err := p.store.AddFact(ctx, &store.Fact{
			Content:        f.Content,
			OwnerID:        ownerID,
			AboutEntityID:  entityID,
			Importance:     importance,
			VisibilityTier: tier,
			Source:         source,
			ValidFrom:      f.ValidFrom,
			ValidTo:        f.ValidTo,
		})
		if err != nil {
			p.logger.Warn("storing fact failed",
				zap.String("content", f.Content), zap.Error(err))
			continue
		}
		if entityID != "" {
			if err := p.store.LinkMention(ctx, id, entityID, "subject"); err != nil {
				p.logger.Warn("linking entity mention failed",
					zap.String("fact_id", id), zap.Error(err))
			}
		}
		stored = append(stored, storedFact{
			id:       id,
			fact:     f,
			tier:     tier,
			tags:     SuggestTags(f.Content),
			entityID: entityID,
		})
	}
	return stored
}

func (p *Pipeline) embedAndTag(ctx context.Context, stored []storedFact) {
	var wg sync.WaitGroup
	for _, sf := range stored {
		wg.Add(1)
		go func(sf storedFact) {
			defer wg.Done()
			p.embedFact(ctx, sf.id, sf.fact.Content)
		}(sf)
		wg.Add(1)
		go func(sf storedFact) {
			defer wg.Done()
			if err := p.store.ApplyTags(ctx, sf.id, sf.tags); err != nil {
				p.logger.Warn("applying tags failed",
					zap.String("fact_id", sf.id), zap.Error(err))
			}
		}(sf)
	}
	wg.Wait()
}

func (p *Pipeline) embedFact(ctx context.Context, factID, content string) {
	if p.embedder == nil {
		return
	}
	vector, err := p.embedder.Embed(ctx, content)
	if err != nil {
		p.logger.Warn("embedding failed",
			zap.String("fact_id", factID), zap.Error(err))
		return
	}
	if err := p.store.AddEmbedding(ctx, factID, vector, ""); err != nil {
		p.logger.Warn("storing embedding failed",
			zap.String("fact_id", factID), zap.Error(err))
	}
}

// invertRelationships stores the reciprocal of each relationship fact:
// "Sharon is my cousin" also records "Alice is Sharon's cousin".
// Relationships with no defined inverse are skipped.
func (p *Pipeline) invertRelationships(ctx context.Context, user *store.User, source string, stored []storedFact) {
	for _, sf := range stored {
		f := sf.fact
		if f.Type != "relationship" || f.Relationship == "" || f.EntityName == "" {
			continue
		}
		inverse, ok := relation.Inverse(f.Relationship)
		if !ok {
			continue
		}

		subject := user.DisplayName
		if subject == "" {
			subject = "The user"
		}
		content := fmt.Sprintf("%s is %s's %s", subject, f.EntityName, inverse)

		id, err := p.store.AddFact(ctx, &store.Fact{
			Content:       content,
			OwnerID:       user.ID,
			AboutEntityID: sf.entityID,
			Source:        "inferred",
		})
		if err != nil {
			p.logger.Warn("storing reverse fact failed",
				zap.String("content", content), zap.Error(err))
			continue
		}
		p.embedFact(ctx, id, content)
	}
}

// detectMilestones turns milestone-shaped facts into annual calendar
// events and returns the titles of events created by this ingestion.
func (p *Pipeline) detectMilestones(ctx context.Context, ownerID string, stored []storedFact) []string {
	var titles []string
	for _, sf := range stored {
		m, ok := milestone.Detect(sf.fact.Content)
		if !ok {
			continue
		}
		next := m.NextOccurrence(p.now())
		ev, created, err := p.store.EnsureRecurringEvent(ctx, &store.RecurringEvent{
			OwnerID:        ownerID,
			Title:          m.Title,
			Description:    m.Description,
			StartTime:      next,
			EndTime:        next.Add(24 * time.Hour),
			AllDay:         true,
			RecurrenceRule: m.RRule(),
			SourceFactID:   sf.id,
			EntityID:       sf.entityID,
		})
		if err != nil {
			p.logger.Warn("creating milestone event failed",
				zap.String("title", m.Title), zap.Error(err))
			continue
		}
		if created {
			titles = append(titles, ev.Title)
		}
	}
	return titles
}

// createdEntities keeps the entities worth mentioning in the confirmation:
// those that arrived with a relationship.
func createdEntities(entities []extract.Entity) []EntityRef {
	var refs []EntityRef
	for _, e := range entities {
		if e.Relationship == "" {
			continue
		}
		refs = append(refs, EntityRef{Name: e.Name, Relationship: e.Relationship})
	}
	return refs
}
