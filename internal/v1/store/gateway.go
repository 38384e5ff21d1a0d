// Package store persists project state to an external document store.
// The server is fully functional without one: every operation degrades to
// a no-op when MONGODB_URI is absent or the store is unreachable, and the
// collaboration state simply lives and dies with the process.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/metrics"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

const (
	collUsers       = "users"
	collProjects    = "projects"
	collFiles       = "files"
	collSuggestions = "suggestions"

	connectTimeout = 5 * time.Second
)

// Record ids for files and suggestions are scoped by room, since clients
// pick their own file and suggestion ids.
func recordID(roomID, id string) string {
	return roomID + "/" + id
}

type projectRecord struct {
	ID          string            `bson:"_id"`
	Name        string            `bson:"name"`
	CreatedAt   time.Time         `bson:"createdAt"`
	UpdatedAt   time.Time         `bson:"updatedAt"`
	Permissions map[string]string `bson:"permissions"`
}

type fileRecord struct {
	ID        string `bson:"_id"`
	ProjectID string `bson:"projectId"`
	FileID    string `bson:"fileId"`
	Path      string `bson:"path"`
	Content   string `bson:"content"`
}

type suggestionRecord struct {
	ID           string           `bson:"_id"`
	ProjectID    string           `bson:"projectId"`
	SuggestionID string           `bson:"suggestionId"`
	FileID       string           `bson:"fileId"`
	CreatorID    string           `bson:"creatorId"`
	Text         string           `bson:"text"`
	Votes        map[string]int64 `bson:"votes"`
}

// Gateway mediates all access to the document store. A circuit breaker
// wraps every operation so a struggling store degrades the server to
// ephemeral mode instead of stalling rooms.
type Gateway struct {
	uri      string
	database string

	connectOnce sync.Once
	connected   bool
	client      *mongo.Client
	db          *mongo.Database
	cb          *gobreaker.CircuitBreaker

	memMu    sync.Mutex
	memUsers map[string]User
}

// New creates a Gateway for the given connection URI. An empty URI
// disables the store permanently. No connection is attempted until
// EnsureConnection.
func New(uri, database string) *Gateway {
	g := &Gateway{uri: uri, database: database}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mongodb",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn(context.Background(), "⚠️ store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	return g
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Enabled reports whether a store URI is configured at all.
func (g *Gateway) Enabled() bool {
	return g != nil && g.uri != ""
}

// EnsureConnection establishes the store connection exactly once and
// caches the outcome. Without a configured URI it returns false
// permanently; a failed first attempt also pins the gateway to
// ephemeral mode for the process lifetime.
func (g *Gateway) EnsureConnection(ctx context.Context) bool {
	if !g.Enabled() {
		return false
	}
	g.connectOnce.Do(func() {
		dialCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(g.uri))
		if err != nil {
			logging.Warn(ctx, "⚠️ store connection failed, running ephemeral", zap.Error(err))
			return
		}
		if err := client.Ping(dialCtx, readpref.Primary()); err != nil {
			logging.Warn(ctx, "⚠️ store unreachable, running ephemeral", zap.Error(err))
			_ = client.Disconnect(context.Background())
			return
		}

		g.client = client
		g.db = client.Database(g.database)
		g.connected = true
		g.ensureIndexes(dialCtx)
		logging.Info(ctx, "✅ connected to document store", zap.String("database", g.database))
	})
	return g.connected
}

// ensureIndexes creates the indexes the query patterns rely on. Failures
// are logged and tolerated; queries still work, just slower.
func (g *Gateway) ensureIndexes(ctx context.Context) {
	models := map[string]mongo.IndexModel{
		collUsers: {
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		collFiles: {
			Keys: bson.D{{Key: "projectId", Value: 1}},
		},
		collSuggestions: {
			Keys: bson.D{{Key: "projectId", Value: 1}},
		},
	}
	for coll, model := range models {
		if _, err := g.db.Collection(coll).Indexes().CreateOne(ctx, model); err != nil {
			logging.Warn(ctx, "index creation failed", zap.String("collection", coll), zap.Error(err))
		}
	}
}

// Ping verifies the store is reachable. Used by the readiness probe.
func (g *Gateway) Ping(ctx context.Context) error {
	if g == nil || !g.connected {
		return errors.New("store not connected")
	}
	return g.client.Ping(ctx, readpref.Primary())
}

// Close releases the store connection.
func (g *Gateway) Close(ctx context.Context) error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Disconnect(ctx)
}

// execute runs a store operation through the circuit breaker.
func (g *Gateway) execute(fn func() error) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerFailures.WithLabelValues("mongodb").Inc()
		return fmt.Errorf("store unavailable: %w", err)
	}
	return err
}

// LoadProjectState upserts the project record, reads its files and
// suggestions, and rebuilds doc's shared containers in one transaction.
// It returns the persisted permission map. Store failures are logged and
// swallowed: the room starts empty rather than failing the connection.
func (g *Gateway) LoadProjectState(ctx context.Context, roomID string, doc *crdt.Doc) (types.PermMap, error) {
	perms := make(types.PermMap)
	if !g.EnsureConnection(ctx) {
		return perms, nil
	}

	var proj projectRecord
	var files []fileRecord
	var suggestions []suggestionRecord

	err := g.execute(func() error {
		now := time.Now().UTC()
		projects := g.db.Collection(collProjects)
		if _, err := projects.UpdateOne(ctx,
			bson.M{"_id": roomID},
			bson.M{
				"$setOnInsert": bson.M{"name": roomID, "createdAt": now, "permissions": bson.M{}},
				"$set":         bson.M{"updatedAt": now},
			},
			options.Update().SetUpsert(true),
		); err != nil {
			return fmt.Errorf("upsert project: %w", err)
		}
		if err := projects.FindOne(ctx, bson.M{"_id": roomID}).Decode(&proj); err != nil {
			return fmt.Errorf("read project: %w", err)
		}

		cur, err := g.db.Collection(collFiles).Find(ctx, bson.M{"projectId": roomID})
		if err != nil {
			return fmt.Errorf("find files: %w", err)
		}
		if err := cur.All(ctx, &files); err != nil {
			return fmt.Errorf("decode files: %w", err)
		}

		cur, err = g.db.Collection(collSuggestions).Find(ctx, bson.M{"projectId": roomID})
		if err != nil {
			return fmt.Errorf("find suggestions: %w", err)
		}
		if err := cur.All(ctx, &suggestions); err != nil {
			return fmt.Errorf("decode suggestions: %w", err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return perms, ctx.Err()
		}
		logging.Warn(ctx, "project state load failed, starting empty",
			zap.String("room_id", roomID), zap.Error(err))
		return perms, nil
	}

	snap := Snapshot{}
	for _, f := range files {
		snap.Files = append(snap.Files, FileState{ID: f.FileID, Path: f.Path, Content: f.Content})
	}
	for _, s := range suggestions {
		snap.Suggestions = append(snap.Suggestions, SuggestionState{
			ID:        s.SuggestionID,
			FileID:    s.FileID,
			CreatorID: s.CreatorID,
			Text:      s.Text,
			Votes:     s.Votes,
		})
	}
	RestoreSnapshot(doc, snap)

	for userID, role := range proj.Permissions {
		if parsed, ok := types.ParseRole(role); ok {
			perms[userID] = parsed
		}
	}
	return perms, nil
}

// PersistProjectState writes a snapshot back to the store, upserting
// records by id and deleting store-side records whose ids are absent from
// the snapshot. Returns an error so the persist scheduler can retry.
func (g *Gateway) PersistProjectState(ctx context.Context, roomID string, snap Snapshot) error {
	if !g.EnsureConnection(ctx) {
		return nil
	}
	return g.execute(func() error {
		files := g.db.Collection(collFiles)
		fileIDs := make([]string, 0, len(snap.Files))
		for _, f := range snap.Files {
			fileIDs = append(fileIDs, f.ID)
			if _, err := files.UpdateOne(ctx,
				bson.M{"_id": recordID(roomID, f.ID)},
				bson.M{"$set": bson.M{
					"projectId": roomID,
					"fileId":    f.ID,
					"path":      f.Path,
					"content":   f.Content,
				}},
				options.Update().SetUpsert(true),
			); err != nil {
				return fmt.Errorf("upsert file %s: %w", f.ID, err)
			}
		}
		if _, err := files.DeleteMany(ctx, bson.M{
			"projectId": roomID,
			"fileId":    bson.M{"$nin": fileIDs},
		}); err != nil {
			return fmt.Errorf("prune files: %w", err)
		}

		suggestions := g.db.Collection(collSuggestions)
		suggestionIDs := make([]string, 0, len(snap.Suggestions))
		for _, s := range snap.Suggestions {
			suggestionIDs = append(suggestionIDs, s.ID)
			if _, err := suggestions.UpdateOne(ctx,
				bson.M{"_id": recordID(roomID, s.ID)},
				bson.M{"$set": bson.M{
					"projectId":    roomID,
					"suggestionId": s.ID,
					"fileId":       s.FileID,
					"creatorId":    s.CreatorID,
					"text":         s.Text,
					"votes":        s.Votes,
				}},
				options.Update().SetUpsert(true),
			); err != nil {
				return fmt.Errorf("upsert suggestion %s: %w", s.ID, err)
			}
		}
		if _, err := suggestions.DeleteMany(ctx, bson.M{
			"projectId":    roomID,
			"suggestionId": bson.M{"$nin": suggestionIDs},
		}); err != nil {
			return fmt.Errorf("prune suggestions: %w", err)
		}

		if _, err := g.db.Collection(collProjects).UpdateOne(ctx,
			bson.M{"_id": roomID},
			bson.M{"$set": bson.M{"updatedAt": time.Now().UTC()}},
			options.Update().SetUpsert(true),
		); err != nil {
			return fmt.Errorf("touch project: %w", err)
		}
		return nil
	})
}

// SetProjectPermission writes one entry of the project's permission map.
func (g *Gateway) SetProjectPermission(ctx context.Context, roomID, userID string, role types.Role) error {
	if !g.EnsureConnection(ctx) {
		return nil
	}
	return g.execute(func() error {
		_, err := g.db.Collection(collProjects).UpdateOne(ctx,
			bson.M{"_id": roomID},
			bson.M{"$set": bson.M{
				"permissions." + userID: string(role),
				"updatedAt":             time.Now().UTC(),
			}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("set permission: %w", err)
		}
		return nil
	})
}
