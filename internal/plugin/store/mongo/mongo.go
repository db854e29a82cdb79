// Package mongo registers the "mongo" resume store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chirino/resume-chat/internal/config"
	"github.com/chirino/resume-chat/internal/model"
	registrymigrate "github.com/chirino/resume-chat/internal/registry/migrate"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/datatypes"
)

const (
	threadsCollection  = "conversation_threads"
	versionsCollection = "resume_versions"
	defaultDatabase    = "resume_chat"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ResumeStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("mongo store: db url is required")
			}
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return &MongoStore{
				client: client,
				db:     client.Database(DatabaseName(cfg)),
			}, nil
		},
	})

	registrymigrate.Register("mongo", migrate)
}

// DatabaseName picks the configured database, then the one named in the URI,
// then the default.
func DatabaseName(cfg *config.Config) string {
	if cfg.MongoDatabase != "" {
		return cfg.MongoDatabase
	}
	if u, err := url.Parse(cfg.DBURL); err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDatabase
}

// migrate creates the collections and the indexes that enforce one active
// thread per document and owner and unique version numbers.
func migrate(ctx context.Context, cfg *config.Config) error {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(DatabaseName(cfg))
	collections := map[string][]mongo.IndexModel{
		threadsCollection: {
			{
				Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "owner_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("one_active_thread").
					SetPartialFilterExpression(bson.M{"status": string(model.ThreadStatusActive)}),
			},
			{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_activity_at", Value: 1}}},
		},
		versionsCollection: {
			{
				Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "version_number", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_version_number"),
			},
		},
	}

	for name, indexes := range collections {
		// Ensure collection exists; an existing collection is fine.
		_ = db.CreateCollection(ctx, name)
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes for %s: %w", name, err)
		}
	}

	return nil
}

// ForceImport can be referenced to make sure the plugin's init() runs.
var ForceImport = 0

// MongoStore implements ResumeStore using MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// --- MongoDB document types ---

type threadDoc struct {
	ID             string     `bson:"_id"`
	DocumentID     string     `bson:"document_id"`
	OwnerID        string     `bson:"owner_id"`
	ExternalHandle string     `bson:"external_handle"`
	Status         string     `bson:"status"`
	FailureReason  *string    `bson:"failure_reason,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	LastActivityAt time.Time  `bson:"last_activity_at"`
	ArchivedAt     *time.Time `bson:"archived_at,omitempty"`
	FailedAt       *time.Time `bson:"failed_at,omitempty"`
}

// Snapshots are stored as JSON text so numbers and key sets round-trip
// exactly as the document codec produced them.
type versionDoc struct {
	ID              string    `bson:"_id"`
	DocumentID      string    `bson:"document_id"`
	VersionNumber   int       `bson:"version_number"`
	Snapshot        string    `bson:"snapshot"`
	SourceSessionID *string   `bson:"source_session_id,omitempty"`
	CreatedAt       time.Time `bson:"created_at"`
}

func (s *MongoStore) threads() *mongo.Collection  { return s.db.Collection(threadsCollection) }
func (s *MongoStore) versions() *mongo.Collection { return s.db.Collection(versionsCollection) }

func toThreadDoc(t *model.ConversationThread) threadDoc {
	return threadDoc{
		ID:             t.ID.String(),
		DocumentID:     t.DocumentID.String(),
		OwnerID:        t.OwnerID,
		ExternalHandle: t.ExternalHandle,
		Status:         string(t.Status),
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt.UTC(),
		LastActivityAt: t.LastActivityAt.UTC(),
		ArchivedAt:     t.ArchivedAt,
		FailedAt:       t.FailedAt,
	}
}

func (d threadDoc) toModel() (model.ConversationThread, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.ConversationThread{}, fmt.Errorf("thread id %q: %w", d.ID, err)
	}
	docID, err := uuid.Parse(d.DocumentID)
	if err != nil {
		return model.ConversationThread{}, fmt.Errorf("thread document id %q: %w", d.DocumentID, err)
	}
	return model.ConversationThread{
		ID:             id,
		DocumentID:     docID,
		OwnerID:        d.OwnerID,
		ExternalHandle: d.ExternalHandle,
		Status:         model.ThreadStatus(d.Status),
		FailureReason:  d.FailureReason,
		CreatedAt:      d.CreatedAt.UTC(),
		LastActivityAt: d.LastActivityAt.UTC(),
		ArchivedAt:     utcPtr(d.ArchivedAt),
		FailedAt:       utcPtr(d.FailedAt),
	}, nil
}

func (d versionDoc) toModel() (model.ResumeVersion, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.ResumeVersion{}, fmt.Errorf("version id %q: %w", d.ID, err)
	}
	docID, err := uuid.Parse(d.DocumentID)
	if err != nil {
		return model.ResumeVersion{}, fmt.Errorf("version document id %q: %w", d.DocumentID, err)
	}
	v := model.ResumeVersion{
		ID:            id,
		DocumentID:    docID,
		VersionNumber: d.VersionNumber,
		CreatedAt:     d.CreatedAt.UTC(),
	}
	dec := json.NewDecoder(strings.NewReader(d.Snapshot))
	dec.UseNumber()
	var snapshot map[string]any
	if err := dec.Decode(&snapshot); err != nil {
		return model.ResumeVersion{}, fmt.Errorf("version %d snapshot: %w", d.VersionNumber, err)
	}
	v.Snapshot = datatypes.JSONMap(snapshot)
	if d.SourceSessionID != nil {
		sid, err := uuid.Parse(*d.SourceSessionID)
		if err != nil {
			return model.ResumeVersion{}, fmt.Errorf("version source session %q: %w", *d.SourceSessionID, err)
		}
		v.SourceSessionID = &sid
	}
	return v, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func decodeThreads(ctx context.Context, cur *mongo.Cursor) ([]model.ConversationThread, error) {
	defer cur.Close(ctx)
	var out []model.ConversationThread
	for cur.Next(ctx) {
		var doc threadDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		t, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cur.Err()
}

// --- Threads ---

func (s *MongoStore) FindActiveThread(ctx context.Context, documentID uuid.UUID, ownerID string) (*model.ConversationThread, error) {
	var doc threadDoc
	err := s.threads().FindOne(ctx, bson.M{
		"document_id": documentID.String(),
		"owner_id":    ownerID,
		"status":      string(model.ThreadStatusActive),
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active thread: %w", err)
	}
	t, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) GetThread(ctx context.Context, threadID uuid.UUID) (*model.ConversationThread, error) {
	var doc threadDoc
	err := s.threads().FindOne(ctx, bson.M{"_id": threadID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	t, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) InsertThread(ctx context.Context, thread *model.ConversationThread) error {
	if thread.ID == uuid.Nil {
		thread.ID = uuid.New()
	}
	_, err := s.threads().InsertOne(ctx, toThreadDoc(thread))
	if mongo.IsDuplicateKeyError(err) {
		return &registrystore.ConflictError{
			Message: "an active thread already exists for this document and owner",
			Code:    registrystore.ConflictActiveThread,
			Details: map[string]interface{}{"documentId": thread.DocumentID.String()},
		}
	}
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *MongoStore) TouchThread(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	result, err := s.threads().UpdateOne(ctx,
		bson.M{"_id": threadID.String(), "status": string(model.ThreadStatusActive)},
		bson.M{"$set": bson.M{"last_activity_at": at.UTC()}})
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	if result.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	return nil
}

func (s *MongoStore) MarkThreadError(ctx context.Context, threadID uuid.UUID, reason string, at time.Time) error {
	_, err := s.threads().UpdateOne(ctx,
		bson.M{"_id": threadID.String(), "status": string(model.ThreadStatusActive)},
		bson.M{"$set": bson.M{
			"status":         string(model.ThreadStatusError),
			"failure_reason": reason,
			"failed_at":      at.UTC(),
		}})
	if err != nil {
		return fmt.Errorf("mark thread error: %w", err)
	}
	return nil
}

func (s *MongoStore) ArchiveThread(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	_, err := s.threads().UpdateOne(ctx,
		bson.M{"_id": threadID.String(), "status": string(model.ThreadStatusActive)},
		bson.M{"$set": bson.M{
			"status":      string(model.ThreadStatusArchived),
			"archived_at": at.UTC(),
		}})
	if err != nil {
		return fmt.Errorf("archive thread: %w", err)
	}
	return nil
}

func (s *MongoStore) ListThreads(ctx context.Context, documentID uuid.UUID, ownerID string) ([]model.ConversationThread, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.threads().Find(ctx, bson.M{"document_id": documentID.String(), "owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return decodeThreads(ctx, cur)
}

func (s *MongoStore) FindIdleThreads(ctx context.Context, cutoff time.Time, limit int) ([]model.ConversationThread, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity_at", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.threads().Find(ctx, bson.M{
		"status":           string(model.ThreadStatusActive),
		"last_activity_at": bson.M{"$lt": cutoff.UTC()},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find idle threads: %w", err)
	}
	return decodeThreads(ctx, cur)
}

// --- Versions ---

func (s *MongoStore) MaxVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error) {
	var doc versionDoc
	err := s.versions().FindOne(ctx,
		bson.M{"document_id": documentID.String()},
		options.FindOne().SetSort(bson.D{{Key: "version_number", Value: -1}}).SetProjection(bson.M{"version_number": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}
	return doc.VersionNumber, nil
}

func (s *MongoStore) InsertVersion(ctx context.Context, version *model.ResumeVersion) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	snapshot, err := json.Marshal(version.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	doc := versionDoc{
		ID:            version.ID.String(),
		DocumentID:    version.DocumentID.String(),
		VersionNumber: version.VersionNumber,
		Snapshot:      string(snapshot),
		CreatedAt:     version.CreatedAt.UTC(),
	}
	if version.SourceSessionID != nil {
		sid := version.SourceSessionID.String()
		doc.SourceSessionID = &sid
	}
	_, err = s.versions().InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return &registrystore.ConflictError{
			Message: fmt.Sprintf("version %d already exists", version.VersionNumber),
			Code:    registrystore.ConflictVersionNumber,
			Details: map[string]interface{}{"documentId": version.DocumentID.String(), "versionNumber": version.VersionNumber},
		}
	}
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *MongoStore) LatestVersion(ctx context.Context, documentID uuid.UUID) (*model.ResumeVersion, error) {
	var doc versionDoc
	err := s.versions().FindOne(ctx,
		bson.M{"document_id": documentID.String()},
		options.FindOne().SetSort(bson.D{{Key: "version_number", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "version", ID: documentID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	v, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *MongoStore) ListVersions(ctx context.Context, documentID uuid.UUID) ([]model.ResumeVersion, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version_number", Value: -1}})
	cur, err := s.versions().Find(ctx, bson.M{"document_id": documentID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer cur.Close(ctx)
	var out []model.ResumeVersion
	for cur.Next(ctx) {
		var doc versionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		v, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, cur.Err()
}

func (s *MongoStore) GetVersion(ctx context.Context, documentID uuid.UUID, versionNumber int) (*model.ResumeVersion, error) {
	var doc versionDoc
	err := s.versions().FindOne(ctx, bson.M{
		"document_id":    documentID.String(),
		"version_number": versionNumber,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "version", ID: fmt.Sprintf("%s/%d", documentID, versionNumber)}
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	v, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// PurgeDocument deletes versions before threads. Without a replica set there
// is no transaction, so a failure part way leaves threads to be retried.
func (s *MongoStore) PurgeDocument(ctx context.Context, documentID uuid.UUID) error {
	filter := bson.M{"document_id": documentID.String()}
	if _, err := s.versions().DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("purge versions: %w", err)
	}
	if _, err := s.threads().DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("purge threads: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ registrystore.ResumeStore = (*MongoStore)(nil)
