package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoJob is the stored document. The report is kept as JSON text so it
// reads back with the same value types it was written with.
type mongoJob struct {
	ID        string    `bson:"_id"`
	Status    string    `bson:"status"`
	Query     string    `bson:"query"`
	FilePath  string    `bson:"file_path"`
	Result    *string   `bson:"result"`
	Error     *string   `bson:"error"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps jobs in one MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	now        func() time.Time
}

var _ jobs.Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	log.Info("Connecting to MongoDB database %s", database)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(CollectionAnalyses),
		timeout:    5 * time.Second,
		now:        time.Now,
	}
	if err := s.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_status_created"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetName("idx_updated"),
		},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, job *jobs.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	stamp(job, s.now())

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.collection.InsertOne(ctx, mongoJob{
		ID:        job.ID,
		Status:    string(job.Status),
		Query:     job.Query,
		FilePath:  job.FilePath,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc mongoJob
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	job := &jobs.Job{
		ID:        doc.ID,
		Status:    jobs.State(doc.Status),
		Query:     doc.Query,
		FilePath:  doc.FilePath,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	if doc.Error != nil {
		job.Error = *doc.Error
	}
	if doc.Result != nil {
		if job.Result, err = decodeResult([]byte(*doc.Result)); err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
	}
	return job, nil
}

func (s *MongoStore) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, jobs.StateQueued, jobs.StateRunning, nil, nil)
}

func (s *MongoStore) Complete(ctx context.Context, id string, result analysis.Report) error {
	raw, err := encodeResult(result)
	if err != nil {
		return err
	}
	text := string(raw)
	return s.transition(ctx, id, jobs.StateRunning, jobs.StateCompleted, &text, nil)
}

func (s *MongoStore) Fail(ctx context.Context, id string, msg string) error {
	return s.transition(ctx, id, jobs.StateRunning, jobs.StateFailed, nil, &msg)
}

func (s *MongoStore) transition(ctx context.Context, id string, from, to jobs.State, result, errMsg *string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"status":     string(to),
		"result":     result,
		"error":      errMsg,
		"updated_at": s.now().UTC(),
	}}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "status": string(from)}, update)
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", id, to, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(id, from, current, found)
}

func (s *MongoStore) Heartbeat(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(jobs.StateRunning)},
		bson.M{"$set": bson.M{"updated_at": s.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(id, jobs.StateRunning, current, found)
}

func (s *MongoStore) FailStale(ctx context.Context, id string, staleBefore time.Time, msg string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{
		"_id":        id,
		"status":     string(jobs.StateRunning),
		"updated_at": bson.M{"$lt": staleBefore.UTC()},
	}
	update := bson.M{"$set": bson.M{
		"status":     string(jobs.StateFailed),
		"result":     nil,
		"error":      msg,
		"updated_at": s.now().UTC(),
	}}
	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("fail stale job %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	current, found, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return staleError(id, current, found)
}

func (s *MongoStore) status(ctx context.Context, id string) (jobs.State, bool, error) {
	var doc struct {
		Status string `bson:"status"`
	}
	err := s.collection.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"status": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load job %s: %w", id, err)
	}
	return jobs.State(doc.Status), true, nil
}

func (s *MongoStore) ListIDs(ctx context.Context, state jobs.State, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, bson.M{"status": string(state)}, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", state, err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

func (s *MongoStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.collection.DeleteMany(ctx, bson.M{
		"status":     bson.M{"$in": []string{string(jobs.StateCompleted), string(jobs.StateFailed)}},
		"updated_at": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return res.DeletedCount, nil
}
