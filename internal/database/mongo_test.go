package database

import (
	"context"
	"testing"
	"time"
)

func TestDatabaseFromURI(t *testing.T) {
	testCases := map[string]string{
		"mongodb://localhost:27017/kindred":               "kindred",
		"mongodb://user:pass@db:27017/people?authSource=a": "people",
		"mongodb://localhost:27017":                       defaultMongoDatabase,
		"mongodb://localhost:27017/":                      defaultMongoDatabase,
		"::not a uri":                                     defaultMongoDatabase,
	}
	for uri, want := range testCases {
		if got := databaseFromURI(uri); got != want {
			t.Fatalf("databaseFromURI(%q) = %q, want %q", uri, got, want)
		}
	}
}

func TestOpenMongoRequiresURI(t *testing.T) {
	if _, err := OpenMongo(context.Background(), "", time.Second, nil); err == nil {
		t.Fatalf("expected error for empty uri")
	}
}
