package service

import (
	"encoding/json"
	"time"

	"golang.org/x/xerrors"
)

// Recipe is a recipe summary as listed by a recipe index
type Recipe struct {
	ID           string `json:"id" msgpack:"id"`
	Name         string `json:"name" msgpack:"name"`
	Category     string `json:"category,omitempty" msgpack:"category"`
	ThumbnailURL string `json:"thumbnail,omitempty" msgpack:"thumbnail"`
	SourceURL    string `json:"source,omitempty" msgpack:"source"`
}

// RecipeList is a fetched recipe index
type RecipeList struct {
	Recipes   []Recipe  `msgpack:"recipes"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

// GetTimestamp returns when the list was fetched
func (list RecipeList) GetTimestamp() time.Time {
	return list.FetchedAt
}

type recipeListDocument struct {
	Recipes []Recipe `json:"recipes"`
}

// ParseRecipeList parses a recipe index document, {"recipes": [...]}
func ParseRecipeList(data []byte) ([]Recipe, error) {
	document := recipeListDocument{}
	err := json.Unmarshal(data, &document)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse recipe list: %w", err)
	}

	if document.Recipes == nil {
		return []Recipe{}, nil
	}
	return document.Recipes, nil
}
