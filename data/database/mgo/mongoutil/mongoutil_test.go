package mongoutil

import (
	"context"
	"errors"
	"testing"

	"PPFeed/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

func TestValidateAndSetDefaults(t *testing.T) {
	c := &Config{Address: []string{"db1:27017", "db2:27017"}, Database: "feed", Username: "u", Password: "p"}
	if err := c.ValidateAndSetDefaults(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := "mongodb://u:p@db1:27017,db2:27017/feed?authSource=feed&maxPoolSize=100"
	if c.Uri != want {
		t.Fatalf("uri = %q, want %q", c.Uri, want)
	}
	if c.MaxRetry != defaultMaxRetry {
		t.Fatalf("max retry = %d", c.MaxRetry)
	}

	if err := (&Config{Database: "feed"}).ValidateAndSetDefaults(); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument without address, got %v", err)
	}
	if err := (&Config{Uri: "mongodb://x"}).ValidateAndSetDefaults(); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument without database, got %v", err)
	}
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	if shouldRetry(ctx, mongo.CommandError{Code: 18}) {
		t.Fatalf("auth failure must not retry")
	}
	if !shouldRetry(ctx, errors.New("timeout")) {
		t.Fatalf("generic errors retry")
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if shouldRetry(cctx, errors.New("timeout")) {
		t.Fatalf("cancelled context must not retry")
	}
}
