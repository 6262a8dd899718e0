// Package describe supplies placeholder label content and item descriptions.
package describe

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/capture-studio/internal/logger"
	"github.com/menta2k/capture-studio/pkg/client"
	"github.com/menta2k/capture-studio/pkg/random"
)

// Categories offered by the label editor
var Categories = []string{"Dish", "Food", "Forage", "Furniture", "Artisan Goods", "Misc"}

// Names are placeholder item names
var Names = []string{
	"Warm Yellow Pendant Lamp",
	"Old Wooden Crate",
	"Clay Jar",
	"Grass Tea",
	"Wild Berries",
	"Wooden Chair",
	"Jar of Jam",
}

// Descriptions are placeholder item descriptions
var Descriptions = []string{
	"It carries the warmth of the afternoon sun and smells like a barn in summer.",
	"The corners are a little battered, a reminder of market days long past.",
	"A sweet scent curls around your nose, like bread fresh from the oven.",
	"A fine layer of dust covers it, as if it is waiting to be used again.",
	"Shake it gently and loose grains whisper inside.",
}

// Placeholder returns the name, category and description for the box at index
func Placeholder(index int) (name, category, description string) {
	if index < 0 {
		index = -index
	}
	return Names[index%len(Names)], Categories[index%len(Categories)], Descriptions[index%len(Descriptions)]
}

// Source tells where a description came from
type Source string

const (
	SourceModel    Source = "model"
	SourceTemplate Source = "template"
	SourcePool     Source = "pool"
)

// Request describes the item to write about
type Request struct {
	ObjectName string `json:"object_name"`
	Category   string `json:"category"`
	Context    string `json:"context,omitempty"`
}

const promptTemplate = `Write a cozy farming-game item description for "%s" (category: %s).%s
At most two short sentences. Plain text only, no quotes, no lists.`

// Describer writes item descriptions, using a model when one is configured
type Describer struct {
	client client.VisionClient
	model  string
	rng    random.Source
	logger logger.Leveled
}

// New creates a Describer. A nil client makes it pick from Descriptions.
func New(c client.VisionClient, model string, rng random.Source) *Describer {
	return &Describer{client: c, model: model, rng: rng, logger: logger.Nop{}}
}

// WithLogger sets the logger used to report model failures
func (d *Describer) WithLogger(l logger.Leveled) *Describer {
	d.logger = logger.OrNop(l)
	return d
}

// SuggestName returns a random placeholder name
func (d *Describer) SuggestName() string {
	return Names[d.rng.Intn(len(Names))]
}

// Describe returns a description for req. It never fails: model errors fall back to a template.
func (d *Describer) Describe(ctx context.Context, req Request) (string, Source) {
	if d.client == nil {
		return Descriptions[d.rng.Intn(len(Descriptions))], SourcePool
	}

	name := orDefault(req.ObjectName, "This item")
	category := orDefault(req.Category, "Misc")
	contextNote := ""
	if req.Context != "" {
		contextNote = " Context: " + req.Context + "."
	}

	text, err := d.client.TextQuery(ctx, d.model, fmt.Sprintf(promptTemplate, name, category, contextNote))
	if err != nil {
		d.logger.Warning("description model failed, using template: %v", err)
		return Template(req), SourceTemplate
	}
	trimmed := TrimToTwoSentences(text)
	if trimmed == "" {
		return Template(req), SourceTemplate
	}
	return trimmed, SourceModel
}

// Template renders the offline description for req
func Template(req Request) string {
	name := orDefault(req.ObjectName, "This item")
	category := orDefault(req.Category, "Misc")

	hint := "a sun-warmed glow"
	if category == "Misc" || category == "Furniture" {
		hint = "the air of something dug out of an old barn"
	}
	contextNote := ""
	if req.Context != "" {
		contextNote = ", recalling " + req.Context
	}
	return fmt.Sprintf("%s has %s%s, a reminder of slow valley days. Touch it gently and you can almost hear wind chimes in the distance.", name, hint, contextNote)
}

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]*`)

// TrimToTwoSentences keeps at most the first two sentences of text on a single line
func TrimToTwoSentences(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")

	var parts []string
	for _, s := range sentencePattern.FindAllString(normalized, -1) {
		if s = strings.TrimSpace(s); strings.Trim(s, ".!?") != "" {
			parts = append(parts, s)
		}
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return ""
	}

	out := strings.Join(parts, " ")
	if !strings.ContainsAny(out[len(out)-1:], ".!?") {
		out += "."
	}
	return out
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
