package services

import (
	"context"
	"errors"
	"testing"

	"gift-floors/utils"
)

func TestRegistryBuildDeduplicatesAndDropsNameless(t *testing.T) {
	src := newFakeSource()
	src.models["7"] = []map[string]any{
		model("Gold", "11", 20),
		model("Blue", "", -1),
		model("Gold", "99", 5),
		{"model": map[string]any{"sticker": map[string]any{"id": "12"}}},
	}
	b := NewRegistryBuilder(src, NewResolver(), testRetry(&sleepRecorder{}), utils.Discard())

	got, err := b.Build(context.Background(), deskCalendar)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("models = %+v; want Gold and Blue", got)
	}
	if got[0].Name != "Gold" || got[0].StrongID != "11" || *got[0].RarityPerMille != 20 {
		t.Errorf("first occurrence must win: %+v", got[0])
	}
	if got[1].Name != "Blue" || got[1].RarityPerMille != nil {
		t.Errorf("second model = %+v", got[1])
	}
}

func TestRegistryBuildEmpty(t *testing.T) {
	b := NewRegistryBuilder(newFakeSource(), NewResolver(), testRetry(&sleepRecorder{}), utils.Discard())
	got, err := b.Build(context.Background(), deskCalendar)
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v; want empty registry", got, err)
	}
}

func TestRegistryBuildRetriesThenFails(t *testing.T) {
	src := newFakeSource()
	src.models["7"] = []map[string]any{model("Gold", "", 1)}
	src.modelErrs["7"] = []error{transient("reset")}
	b := NewRegistryBuilder(src, NewResolver(), testRetry(&sleepRecorder{}), utils.Discard())

	got, err := b.Build(context.Background(), deskCalendar)
	if err != nil || len(got) != 1 {
		t.Fatalf("transient failure should be retried: %v, %v", got, err)
	}

	src.modelErrs["7"] = []error{transient("a"), transient("b"), transient("c")}
	_, err = b.Build(context.Background(), deskCalendar)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("err = %v; want ErrSourceUnavailable", err)
	}
}
