package describe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"local.dev/campus-market/internal/models"
)

const DefaultModel = "gemini-2.5-flash"

var ErrEmptyTitle = errors.New("title is required")

// Generator 產生商品描述；失敗時回傳固定的備用文字
type Generator interface {
	Generate(ctx context.Context, title string, category models.Category) (string, error)
}

func prompt(title string, category models.Category) string {
	return fmt.Sprintf("Write a short, appealing marketplace description for a second-hand item for a student marketplace. "+
		"The item is a %q in the category %q. Keep it concise, under 50 words. "+
		"Highlight its key features and condition for a student audience.", title, string(category))
}

func fallbackText(title string, category models.Category) string {
	return fmt.Sprintf("This is a %s in the %s category. It is a useful item for any student. Please contact the seller for more details.", title, category)
}

// Fallback 不呼叫任何外部服務（開發模式）
type Fallback struct{}

func (Fallback) Generate(_ context.Context, title string, category models.Category) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	return fallbackText(title, category), nil
}

// contentGenerator 是 *genai.Models 用到的那一個方法
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Gemini struct {
	models  contentGenerator
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGemini rps <= 0 表示不限速
func NewGemini(ctx context.Context, apiKey, model string, rps float64) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return newGemini(client.Models, model, rps), nil
}

func newGemini(models contentGenerator, model string, rps float64) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Gemini{models: models, model: model, limiter: rate.NewLimiter(limit, 1), timeout: 20 * time.Second}
}

func (g *Gemini) Generate(ctx context.Context, title string, category models.Category) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	text, err := g.generate(ctx, title, category)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"title": title, "category": category}).Warn("description generation failed, using fallback")
		return fallbackText(title, category), nil
	}
	return text, nil
}

func (g *Gemini) generate(ctx context.Context, title string, category models.Category) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt(title, category)), nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}
