package tokengen

import (
	"math/rand"
	"testing"

	"pulseboard/internal/domain"
)

func TestRandom_Fields(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	tok := Random(r, domain.CategoryNewPairs, "id1", 1704067200000)

	if tok.ID != "id1" {
		t.Errorf("ID mismatch: got %s", tok.ID)
	}
	if tok.Category != domain.CategoryNewPairs {
		t.Errorf("Category mismatch: got %s", tok.Category)
	}
	if tok.CreatedAt != 1704067200000 {
		t.Errorf("CreatedAt mismatch: got %d", tok.CreatedAt)
	}
	if tok.Price <= 0 {
		t.Errorf("expected positive price, got %f", tok.Price)
	}
	if tok.Symbol == "" || tok.Name == "" {
		t.Error("expected symbol and name to be set")
	}
}

func TestPlaceholder_TempID(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	tok := Placeholder(r, domain.CategoryMigrated, 1704067200000)

	if !IsPlaceholder(tok.ID) {
		t.Errorf("expected placeholder id, got %s", tok.ID)
	}

	other := Placeholder(r, domain.CategoryMigrated, 1704067200000)
	if tok.ID == other.ID {
		t.Error("placeholder ids must be unique")
	}
}

func TestIsPlaceholder(t *testing.T) {
	if IsPlaceholder("EsknQ3Ff3vLuDGKDkjY45tM9oJf1qRw2") {
		t.Error("server id misclassified as placeholder")
	}
	if !IsPlaceholder(PlaceholderID()) {
		t.Error("placeholder id not recognized")
	}
}
