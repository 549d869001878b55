package task_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/zakops/gatekeep/task"
)

func TestRegistry_GetUnknownType(t *testing.T) {
	r := task.NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(\"nope\") = ok, want missing")
	}
}

func TestRegisterDefinition_UnmarshalsPayload(t *testing.T) {
	type input struct {
		DealID string `json:"deal_id"`
	}

	var got input
	r := task.NewRegistry()
	task.RegisterDefinition(r, &task.Definition[input]{
		Type: "execute_action",
		Handler: func(_ context.Context, in input) error {
			got = in
			return nil
		},
	})

	h, ok := r.Get("execute_action")
	if !ok {
		t.Fatal("handler not registered")
	}
	if err := h(context.Background(), []byte(`{"deal_id":"d-1"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.DealID != "d-1" {
		t.Errorf("DealID = %q, want %q", got.DealID, "d-1")
	}
}

func TestRegisterDefinition_BadPayload(t *testing.T) {
	type input struct{ N int }

	r := task.NewRegistry()
	task.RegisterDefinition(r, &task.Definition[input]{
		Type:    "typed",
		Handler: func(context.Context, input) error { return nil },
	})

	h, _ := r.Get("typed")
	if err := h(context.Background(), []byte(`not json`)); err == nil {
		t.Error("handler accepted malformed payload")
	}
}

func TestRegistry_PropagatesHandlerError(t *testing.T) {
	want := errors.New("boom")
	r := task.NewRegistry()
	r.Register("failing", func(context.Context, []byte) error { return want })

	h, _ := r.Get("failing")
	if err := h(context.Background(), nil); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestRegistry_Types(t *testing.T) {
	r := task.NewRegistry()
	r.Register("a", func(context.Context, []byte) error { return nil })
	r.Register("b", func(context.Context, []byte) error { return nil })

	types := r.Types()
	sort.Strings(types)
	if len(types) != 2 || types[0] != "a" || types[1] != "b" {
		t.Errorf("Types() = %v, want [a b]", types)
	}
}
