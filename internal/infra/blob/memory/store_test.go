package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"graphsub/internal/infra/blob/core"
)

var ctx = context.Background()

func TestPutGetOverwrite(t *testing.T) {
	s := New()
	if _, err := s.Put(ctx, "k", strings.NewReader("v1"), core.PutOptions{ContentType: "text/plain"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "k", strings.NewReader("v2"), core.PutOptions{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	info, r, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = r.Close() }()
	data, _ := io.ReadAll(r)
	if string(data) != "v2" || info.Size != 2 {
		t.Fatalf("content after overwrite: %s (%+v)", data, info)
	}
}

func TestGetMissing(t *testing.T) {
	s := New()
	if _, _, err := s.Get(ctx, "ghost"); err == nil {
		t.Fatal("missing key returned no error")
	}
	if _, err := s.Head(ctx, "ghost"); err == nil {
		t.Fatal("head on missing key returned no error")
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	s := New()
	_, _ = s.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{})
	if existed, _ := s.Delete(ctx, "k"); !existed {
		t.Fatal("delete of present key reported absent")
	}
	if existed, _ := s.Delete(ctx, "k"); existed {
		t.Fatal("delete of absent key reported present")
	}
}

func TestListSortedByPrefix(t *testing.T) {
	s := New()
	for _, key := range []string{"b/2", "a/1", "b/1"} {
		_, _ = s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{})
	}
	infos, err := s.List(ctx, "b/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "b/1" || infos[1].Key != "b/2" {
		t.Fatalf("list result: %+v", infos)
	}
}

func TestMetadataIsolated(t *testing.T) {
	s := New()
	meta := map[string]string{"source": "engine"}
	_, _ = s.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{Metadata: meta})
	meta["source"] = "mutated"
	info, err := s.Head(ctx, "k")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.Metadata["source"] != "engine" {
		t.Fatal("stored metadata mutated through caller's map")
	}
}

func TestPresignUnsupported(t *testing.T) {
	s := New()
	if _, err := s.PresignURL(ctx, "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if s.Driver() != core.DriverMemory {
		t.Fatal("driver identifier wrong")
	}
}
