// Package mongostore is the optional MongoDB-backed Store implementation:
// the same backlog/sprint/checkpoint/results documents as fsstore,
// persisted to a shared, queryable collection set instead of a local
// filesystem, for teams running the orchestrator across multiple hosts.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/store"
	"forge.dev/forge/internal/telemetry"
)

// Store is a MongoDB implementation of store.Store. Each artifact kind
// lives in its own fixed-name collection within the database passed to
// New; the caller chooses that database.
type Store struct {
	backlog     *mongo.Collection
	sprints     *mongo.Collection
	checkpoints *mongo.Collection
	results     *mongo.Collection
	logger      telemetry.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger supplies a Logger, used to warn on a checkpoint schema
// version mismatch. Defaults to a noop implementation.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New constructs a Store backed by db, using fixed collection names
// ("backlog", "sprints", "checkpoints", "results").
func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{
		backlog:     db.Collection("backlog"),
		sprints:     db.Collection("sprints"),
		checkpoints: db.Collection("checkpoints"),
		results:     db.Collection("results"),
		logger:      telemetry.NewNoopLogger("mongostore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type backlogDocument struct {
	ID    string        `bson:"_id"`
	Tasks []domain.Task `bson:"tasks"`
}

// backlogDocumentID is the fixed key under which the single backlog
// document is stored: the backlog is a per-project singleton, unlike
// sprints/checkpoints/results which are keyed by sprint id.
const backlogDocumentID = "backlog"

// LoadBacklog returns the project's backlog, or an empty Backlog if none
// has been saved yet.
func (s *Store) LoadBacklog(ctx context.Context) (store.Backlog, error) {
	var doc backlogDocument
	err := s.backlog.FindOne(ctx, bson.M{"_id": backlogDocumentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Backlog{}, nil
		}
		return store.Backlog{}, fmt.Errorf("mongostore: load backlog: %w", err)
	}
	return store.Backlog{Tasks: doc.Tasks}, nil
}

// SaveBacklog upserts the project's backlog document.
func (s *Store) SaveBacklog(ctx context.Context, b store.Backlog) error {
	doc := backlogDocument{ID: backlogDocumentID, Tasks: b.Tasks}
	opts := options.Replace().SetUpsert(true)
	_, err := s.backlog.ReplaceOne(ctx, bson.M{"_id": backlogDocumentID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongostore: save backlog: %w", err)
	}
	return nil
}

// LoadSprint returns sprintID's Sprint, or a zero-value Sprint if it does
// not exist.
func (s *Store) LoadSprint(ctx context.Context, sprintID string) (domain.Sprint, error) {
	var sp domain.Sprint
	err := s.sprints.FindOne(ctx, bson.M{"_id": sprintID}).Decode(&sp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Sprint{}, nil
		}
		return domain.Sprint{}, fmt.Errorf("mongostore: load sprint %q: %w", sprintID, err)
	}
	return sp, nil
}

// SaveSprint upserts sp, keyed by sp.ID.
func (s *Store) SaveSprint(ctx context.Context, sp domain.Sprint) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.sprints.ReplaceOne(ctx, bson.M{"_id": sp.ID}, sp, opts)
	if err != nil {
		return fmt.Errorf("mongostore: save sprint %q: %w", sp.ID, err)
	}
	return nil
}

// LoadCheckpoint returns sprintID's checkpoint, or nil if none exists. A
// document that fails to decode is treated as absent, so restore
// silently starts from scratch instead of failing the phase.
func (s *Store) LoadCheckpoint(ctx context.Context, sprintID string) (*domain.CheckpointState, error) {
	var doc checkpointDocument
	raw, err := s.checkpoints.FindOne(ctx, bson.M{"_id": sprintID}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongostore: load checkpoint %q: %w", sprintID, err)
	}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, nil
	}
	cp := &domain.CheckpointState{
		SchemaVersion:    doc.SchemaVersion,
		SprintID:         doc.ID,
		CurrentTaskIndex: doc.CurrentTaskIndex,
		CompletedTaskIDs: make(map[string]struct{}, len(doc.CompletedTaskIDs)),
		TaskResults:      doc.TaskResults,
		StartTime:        doc.StartTime.Time(),
	}
	for _, id := range doc.CompletedTaskIDs {
		cp.CompletedTaskIDs[id] = struct{}{}
	}
	if cp.SchemaVersion != domain.CurrentSchemaVersion {
		// Checked, not enforced: the document is still returned and used
		// as-is, but a warning is logged so a stale on-disk schema doesn't
		// go unnoticed across a multi-host deployment.
		s.logger.Warn(ctx, "checkpoint schema version mismatch",
			"sprint_id", sprintID,
			"found_version", cp.SchemaVersion,
			"current_version", domain.CurrentSchemaVersion,
		)
	}
	return cp, nil
}

// checkpointDocument adds the Mongo "_id" key alongside the checkpoint's
// own JSON-tagged fields (CheckpointState marshals its completed-task set
// through custom JSON, not BSON, marshaling; bson.Marshal falls back to
// struct field reflection, so the document is built explicitly here).
type checkpointDocument struct {
	ID               string                        `bson:"_id"`
	SchemaVersion    int                           `bson:"schemaVersion"`
	CurrentTaskIndex int                           `bson:"currentTaskIndex"`
	CompletedTaskIDs []string                      `bson:"completedTaskIds"`
	TaskResults      []domain.TaskExecutionResult `bson:"taskResults"`
	StartTime        bson.DateTime                 `bson:"startTime"`
}

// SaveCheckpoint upserts cp, stamping the current schema version.
func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.CheckpointState) error {
	cp.SchemaVersion = domain.CurrentSchemaVersion
	ids := make([]string, 0, len(cp.CompletedTaskIDs))
	for id := range cp.CompletedTaskIDs {
		ids = append(ids, id)
	}
	doc := checkpointDocument{
		ID:               cp.SprintID,
		SchemaVersion:    cp.SchemaVersion,
		CurrentTaskIndex: cp.CurrentTaskIndex,
		CompletedTaskIDs: ids,
		TaskResults:      cp.TaskResults,
		StartTime:        bson.NewDateTimeFromTime(cp.StartTime),
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.checkpoints.ReplaceOne(ctx, bson.M{"_id": cp.SprintID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongostore: save checkpoint %q: %w", cp.SprintID, err)
	}
	return nil
}

// SaveResults upserts r, keyed by r.SprintID.
func (s *Store) SaveResults(ctx context.Context, r store.Results) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.results.ReplaceOne(ctx, bson.M{"_id": r.SprintID}, r, opts)
	if err != nil {
		return fmt.Errorf("mongostore: save results %q: %w", r.SprintID, err)
	}
	return nil
}
