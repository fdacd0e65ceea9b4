// Package importer turns free text and web pages into recipes with the help
// of a language model.
package importer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/units"
)

//go:embed import_prompt.md
var importPrompt string

var promptTemplate = template.Must(template.New("import").Parse(importPrompt))

const maxContentChars = 20000

var ErrNoRecipe = errors.New("no recipe found in text")

// Parser extracts recipes from text.
type Parser struct {
	gen    llm.TextGenerator
	client *http.Client
	logger *zap.Logger
}

type Option func(*Parser)

// WithHTTPClient replaces the client used to fetch pages.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Parser) { p.client = c }
}

func NewParser(gen llm.TextGenerator, logger *zap.Logger, opts ...Option) *Parser {
	p := &Parser{
		gen:    gen,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type extractedIngredient struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
}

type extractedRecipe struct {
	Name         string                `json:"name"`
	Servings     int                   `json:"servings"`
	Instructions string                `json:"instructions"`
	Ingredients  []extractedIngredient `json:"ingredients"`
}

func buildPrompt(text string) (string, error) {
	data := struct {
		Units      []units.MeasurementUnit
		Categories []units.Category
		Text       string
	}{units.AllUnits, units.AllCategories, text}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build import prompt: %w", err)
	}
	return buf.String(), nil
}

// stripFences removes a Markdown code fence around a JSON answer.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// ParseText asks the model for a recipe in text and normalizes its units and
// categories.
func (p *Parser) ParseText(ctx context.Context, text string) (recipe.RecipeInput, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return recipe.RecipeInput{}, ErrNoRecipe
	}
	prompt, err := buildPrompt(text)
	if err != nil {
		return recipe.RecipeInput{}, err
	}

	start := time.Now()
	resp, err := p.gen.GenerateContent(ctx, prompt)
	if err != nil {
		return recipe.RecipeInput{}, fmt.Errorf("recipe extraction failed: %w", err)
	}
	p.logger.Info("recipe extracted",
		zap.String("model", resp.Usage.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)))

	var out extractedRecipe
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &out); err != nil {
		return recipe.RecipeInput{}, fmt.Errorf("failed to parse extracted recipe: %w", err)
	}
	return normalize(out)
}

func normalize(r extractedRecipe) (recipe.RecipeInput, error) {
	in := recipe.RecipeInput{
		Name:         strings.TrimSpace(r.Name),
		Servings:     r.Servings,
		Instructions: strings.TrimSpace(r.Instructions),
	}
	if in.Name == "" {
		return recipe.RecipeInput{}, ErrNoRecipe
	}
	if in.Servings <= 0 {
		in.Servings = 1
	}
	seen := make(map[string]bool)
	for _, ing := range r.Ingredients {
		name := strings.TrimSpace(ing.Name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		category, err := units.ParseCategory(ing.Category)
		if err != nil {
			category = units.SuggestCategory(name)
		}
		amount := ing.Amount
		if amount < 0 {
			amount = 0
		}
		in.Ingredients = append(in.Ingredients, recipe.IngredientInput{
			Name:     name,
			Amount:   amount,
			Unit:     units.ParseUnitOr(ing.Unit, units.Gram),
			Category: category,
		})
	}
	return in, nil
}

// FetchURL downloads a page and returns its visible text without scripts,
// navigation and ads.
func (p *Parser) FetchURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}
	doc.Find("script, style, nav, header, footer, iframe, noscript, aside, .ads, #ads, .comments").Remove()

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > maxContentChars {
		text = text[:maxContentChars]
	}
	return text, nil
}

// ImportURL fetches a page and extracts its recipe. The source URL is
// appended to the instructions.
func (p *Parser) ImportURL(ctx context.Context, url string) (recipe.RecipeInput, error) {
	text, err := p.FetchURL(ctx, url)
	if err != nil {
		return recipe.RecipeInput{}, err
	}
	in, err := p.ParseText(ctx, text)
	if err != nil {
		return recipe.RecipeInput{}, err
	}
	source := "Source: " + url
	if in.Instructions == "" {
		in.Instructions = source
	} else {
		in.Instructions += "\n\n" + source
	}
	return in, nil
}
