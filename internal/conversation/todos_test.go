package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tenex-chat/tenex/pkg/models"
)

func TestWriteTodosValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.Create(ctx, root("root"))

	tests := []struct {
		name    string
		items   []models.TodoItem
		wantErr string
	}{
		{
			name: "duplicate ids rejected",
			items: []models.TodoItem{
				{ID: "t1", Title: "a", Status: models.TodoPending},
				{ID: "t1", Title: "b", Status: models.TodoPending},
			},
			wantErr: "duplicate todo id",
		},
		{
			name: "skipped without reason rejected",
			items: []models.TodoItem{
				{ID: "t1", Title: "a", Status: models.TodoSkipped},
			},
			wantErr: "skip reason",
		},
		{
			name: "invalid status rejected",
			items: []models.TodoItem{
				{ID: "t1", Title: "a", Status: "bogus"},
			},
			wantErr: "invalid status",
		},
		{
			name: "empty id rejected",
			items: []models.TodoItem{
				{Title: "a", Status: models.TodoPending},
			},
			wantErr: "empty id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.WriteTodos(ctx, "root", "pk1", tt.items, false)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteTodosMissingIDSafety(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.Create(ctx, root("root"))

	initial := []models.TodoItem{
		{ID: "t1", Title: "first", Status: models.TodoPending},
		{ID: "t2", Title: "second", Status: models.TodoPending},
	}
	if err := store.WriteTodos(ctx, "root", "pk1", initial, false); err != nil {
		t.Fatalf("initial write: %v", err)
	}

	// Omitting t2 without force is rejected and leaves state unchanged.
	err := store.WriteTodos(ctx, "root", "pk1", []models.TodoItem{
		{ID: "t1", Title: "first", Status: models.TodoDone},
	}, false)
	var todoErr *TodoError
	if err == nil {
		t.Fatal("expected safety rejection")
	}
	if !errors.As(err, &todoErr) || len(todoErr.MissingIDs) != 1 || todoErr.MissingIDs[0] != "t2" {
		t.Errorf("error should list missing ids, got %v", err)
	}
	got, _ := store.Todos("root", "pk1")
	if len(got) != 2 || got[0].Status != models.TodoPending {
		t.Errorf("state changed after rejected write: %+v", got)
	}

	// With force the list is replaced exactly.
	if err := store.WriteTodos(ctx, "root", "pk1", []models.TodoItem{
		{ID: "t1", Title: "first", Status: models.TodoDone},
	}, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	got, _ = store.Todos("root", "pk1")
	if len(got) != 1 || got[0].ID != "t1" || got[0].Status != models.TodoDone {
		t.Errorf("forced replace result: %+v", got)
	}
}

func TestWriteTodosPreservesCreatedAtAndDescription(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.Create(ctx, root("root"))

	if err := store.WriteTodos(ctx, "root", "pk1", []models.TodoItem{
		{ID: "t1", Title: "first", Description: "original description", Status: models.TodoPending},
	}, false); err != nil {
		t.Fatalf("initial write: %v", err)
	}
	before, _ := store.Todos("root", "pk1")
	created := before[0].CreatedAt
	updated := before[0].UpdatedAt

	time.Sleep(5 * time.Millisecond)

	// Same status, unset description: both carried over, UpdatedAt kept.
	if err := store.WriteTodos(ctx, "root", "pk1", []models.TodoItem{
		{ID: "t1", Title: "first", Status: models.TodoPending},
	}, false); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, _ := store.Todos("root", "pk1")
	if got[0].Description != "original description" {
		t.Errorf("description = %q, want carried over", got[0].Description)
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Error("CreatedAt should be preserved")
	}
	if !got[0].UpdatedAt.Equal(updated) {
		t.Error("UpdatedAt should not advance without a status change")
	}

	// Status change advances UpdatedAt.
	if err := store.WriteTodos(ctx, "root", "pk1", []models.TodoItem{
		{ID: "t1", Title: "first", Status: models.TodoInProgress},
	}, false); err != nil {
		t.Fatalf("status change: %v", err)
	}
	got, _ = store.Todos("root", "pk1")
	if !got[0].UpdatedAt.After(updated) {
		t.Error("UpdatedAt should advance on status change")
	}
}
