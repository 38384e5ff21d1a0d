package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// User is an account record. The login endpoint is username-only, so the
// record doubles as the identity source for issued tokens.
type User struct {
	ID       string     `bson:"_id" json:"id"`
	Username string     `bson:"username" json:"username"`
	Avatar   string     `bson:"avatar" json:"avatar"`
	JoinDate time.Time  `bson:"joinDate" json:"joinDate"`
	Role     types.Role `bson:"role" json:"role"`
}

func newUser(username string, role types.Role) User {
	return User{
		ID:       uuid.NewString(),
		Username: username,
		Avatar:   avatarURL(username),
		JoinDate: time.Now().UTC(),
		Role:     role,
	}
}

func avatarURL(username string) string {
	return "https://api.dicebear.com/7.x/thumbs/svg?seed=" + url.QueryEscape(username)
}

// EnsureUser returns the account for username, creating it on first login.
// The first account of an empty deployment becomes admin; everyone after
// that starts as editor. Without a reachable store the registry lives in
// memory and resets on restart.
func (g *Gateway) EnsureUser(ctx context.Context, username string) (User, error) {
	if g == nil {
		return User{}, errors.New("store gateway not configured")
	}
	if g.EnsureConnection(ctx) {
		user, err := g.ensureStoredUser(ctx, username)
		if err == nil {
			return user, nil
		}
		if ctx.Err() != nil {
			return User{}, ctx.Err()
		}
		logging.Warn(ctx, "user lookup fell back to memory", zap.Error(err))
	}
	return g.ensureMemoryUser(username), nil
}

func (g *Gateway) ensureStoredUser(ctx context.Context, username string) (User, error) {
	users := g.db.Collection(collUsers)
	var user User
	err := g.execute(func() error {
		err := users.FindOne(ctx, bson.M{"username": username}).Decode(&user)
		if err == nil {
			return nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("find user: %w", err)
		}

		role := types.RoleEditor
		admins, err := users.CountDocuments(ctx, bson.M{"role": string(types.RoleAdmin)})
		if err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins == 0 {
			role = types.RoleAdmin
		}

		user = newUser(username, role)
		if _, err := users.InsertOne(ctx, user); err != nil {
			// Two first logins with the same fresh username can race on
			// the unique index; the loser adopts the winner's record.
			if mongo.IsDuplicateKeyError(err) {
				return users.FindOne(ctx, bson.M{"username": username}).Decode(&user)
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	return user, err
}

func (g *Gateway) ensureMemoryUser(username string) User {
	g.memMu.Lock()
	defer g.memMu.Unlock()

	if g.memUsers == nil {
		g.memUsers = make(map[string]User)
	}
	if u, ok := g.memUsers[username]; ok {
		return u
	}

	role := types.RoleAdmin
	for _, u := range g.memUsers {
		if u.Role == types.RoleAdmin {
			role = types.RoleEditor
			break
		}
	}
	u := newUser(username, role)
	g.memUsers[username] = u
	return u
}
