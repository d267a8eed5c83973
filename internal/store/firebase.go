package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// OAuth scopes the Realtime Database REST endpoints accept for service
// accounts.
var databaseScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/firebase.database",
}

// FirebaseStore is the production Store, backed by Firebase Realtime
// Database. Point reads and writes go through the Admin SDK; Update maps to
// the SDK's ETag transaction, which is the conditional-write primitive the
// pairing protocol depends on. Watch uses the database's REST streaming
// endpoint because the Admin SDK has no listener support.
type FirebaseStore struct {
	client *db.Client
	stream *streamClient
}

// NewFirebaseStore connects to the database at databaseURL. credentialsFile
// may be empty, in which case application-default credentials are used.
func NewFirebaseStore(ctx context.Context, databaseURL, credentialsFile string) (*FirebaseStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect realtime database: %w", err)
	}

	ts, err := tokenSource(ctx, credentialsFile)
	if err != nil {
		return nil, err
	}

	return &FirebaseStore{
		client: client,
		stream: newStreamClient(databaseURL, ts),
	}, nil
}

func tokenSource(ctx context.Context, credentialsFile string) (oauth2.TokenSource, error) {
	if credentialsFile == "" {
		ts, err := google.DefaultTokenSource(ctx, databaseScopes...)
		if err != nil {
			return nil, fmt.Errorf("default credentials: %w", err)
		}
		return ts, nil
	}
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, databaseScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return creds.TokenSource, nil
}

func (f *FirebaseStore) Get(ctx context.Context, path string, dest interface{}) error {
	if err := f.client.NewRef(path).Get(ctx, dest); err != nil {
		return unavailable("get "+path, err)
	}
	return nil
}

func (f *FirebaseStore) Set(ctx context.Context, path string, value interface{}) error {
	if err := f.client.NewRef(path).Set(ctx, value); err != nil {
		return unavailable("set "+path, err)
	}
	return nil
}

func (f *FirebaseStore) Delete(ctx context.Context, path string) error {
	if err := f.client.NewRef(path).Delete(ctx); err != nil {
		return unavailable("delete "+path, err)
	}
	return nil
}

func (f *FirebaseStore) Push(ctx context.Context, path string, value interface{}) (string, error) {
	ref, err := f.client.NewRef(path).Push(ctx, value)
	if err != nil {
		return "", unavailable("push "+path, err)
	}
	return ref.Key, nil
}

func (f *FirebaseStore) Update(ctx context.Context, path string, fn UpdateFunc) error {
	return f.client.NewRef(path).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var current json.RawMessage
		if err := node.Unmarshal(&current); err != nil {
			return nil, fmt.Errorf("decode current value: %w", err)
		}
		if string(current) == "null" {
			current = nil
		}
		return fn(current)
	})
}

func (f *FirebaseStore) Watch(ctx context.Context, path string) (*Subscription, error) {
	return f.stream.watch(ctx, path)
}
