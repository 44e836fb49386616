// Package report defines the run reports printed and archived after each
// discovery or ingestion run, and the aggregator that builds them.
package report

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage names recorded with failures.
const (
	StageSeed      = "seed"
	StageListing   = "listing"
	StagePage      = "page"
	StageNavigate  = "navigate"
	StageExtract   = "extract"
	StagePersist   = "persist"
	StageMarkState = "mark"
)

// Failure is one URL that did not complete, and why.
type Failure struct {
	URL   string `json:"url"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// Discovery summarizes a crawl of the category tree.
type Discovery struct {
	RunID               uuid.UUID `json:"runId"`
	StartedAt           time.Time `json:"startedAt"`
	FinishedAt          time.Time `json:"finishedAt"`
	Generations         int       `json:"generations"`
	CategoriesAttempted int       `json:"categoriesAttempted"`
	CategoriesDone      int       `json:"categoriesDone"`
	CategoriesFailed    int       `json:"categoriesFailed"`
	SubcategoriesFound  int       `json:"subcategoriesFound"`
	ProductLinksFound   int       `json:"productLinksFound"`
	// Failures lists categories still failed when the run ended.
	Failures []Failure `json:"failures"`
}

// FailedURLs returns the URLs of every failure, in order.
func (d Discovery) FailedURLs() []string {
	return failedURLs(d.Failures)
}

// Fields renders the counters as structured log fields.
func (d Discovery) Fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", d.RunID.String()),
		zap.Int("generations", d.Generations),
		zap.Int("categories_attempted", d.CategoriesAttempted),
		zap.Int("categories_done", d.CategoriesDone),
		zap.Int("categories_failed", d.CategoriesFailed),
		zap.Int("subcategories_found", d.SubcategoriesFound),
		zap.Int("product_links_found", d.ProductLinksFound),
		zap.Duration("elapsed", d.FinishedAt.Sub(d.StartedAt)),
	}
}

// Ingestion summarizes a product scraping run.
type Ingestion struct {
	RunID         uuid.UUID `json:"runId"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Queued        int       `json:"queued"`
	Succeeded     int       `json:"succeeded"`
	Products      int       `json:"products"`
	AlternateSKUs int       `json:"alternateSkus"`
	Failures      []Failure `json:"failures"`
}

// FailedURLs returns the URLs of every failure, in order.
func (r Ingestion) FailedURLs() []string {
	return failedURLs(r.Failures)
}

// Fields renders the counters as structured log fields.
func (r Ingestion) Fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", r.RunID.String()),
		zap.Int("queued", r.Queued),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("failed", len(r.Failures)),
		zap.Int("products", r.Products),
		zap.Int("alternate_skus", r.AlternateSKUs),
		zap.Duration("elapsed", r.FinishedAt.Sub(r.StartedAt)),
	}
}

// Run is what gets archived: one or both stages plus a fatal error, if any.
type Run struct {
	RunID     uuid.UUID  `json:"runId"`
	Mode      string     `json:"mode"`
	Discovery *Discovery `json:"discovery,omitempty"`
	Ingestion *Ingestion `json:"ingestion,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func failedURLs(failures []Failure) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.URL)
	}
	return out
}
