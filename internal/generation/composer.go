// Package generation turns retrieved documents into an answer, using a remote
// chat model when configured and a keyword-routed local template otherwise.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"intellichat/internal/domain"
	"intellichat/internal/metrics"
)

const (
	// GuidanceMessage is returned when nothing relevant was retrieved.
	GuidanceMessage = "I couldn't find relevant information in the available data. Please try asking about attendance, summaries, analytics, or research papers."

	// SystemPrompt is sent as the system message to the remote model.
	SystemPrompt = "You are IntelliChat, a helpful assistant that answers questions based on the provided context. Be concise and accurate."
)

// Request is a single chat completion request.
type Request struct {
	System string
	Prompt string
}

// Generator produces a completion for a request.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Composer implements domain.Composer.
type Composer struct {
	gen      Generator
	useLocal bool
	timeout  time.Duration
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// Options configures a Composer.
type Options struct {
	// Generator may be nil, which forces the local strategy.
	Generator   Generator
	UseLocalLLM bool
	Timeout     time.Duration
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Metrics
}

// NewComposer creates a Composer.
func NewComposer(opts Options) *Composer {
	c := &Composer{
		gen:      opts.Generator,
		useLocal: opts.UseLocalLLM,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	return c
}

// Remote reports whether Compose will try the remote model first.
func (c *Composer) Remote() bool { return c.gen != nil && !c.useLocal }

// Compose answers query from results. It never fails: remote errors fall back
// to the local strategy.
func (c *Composer) Compose(ctx context.Context, query string, results []domain.SearchResult) string {
	if len(results) == 0 {
		c.metrics.Answered(metrics.StrategyGuidance)
		return GuidanceMessage
	}
	contextText := BuildContext(results)

	if c.Remote() {
		answer, err := c.generate(ctx, query, contextText)
		if err == nil {
			c.metrics.Answered(metrics.StrategyRemote)
			return answer
		}
		kind := KindNetwork
		var ge *Error
		if errors.As(err, &ge) {
			kind = ge.Kind
		}
		c.log.Warnw("remote generation failed, using local answer", "generator", c.gen.Name(), "kind", string(kind), "error", err)
		c.metrics.RemoteFailed(string(kind))
	}
	c.metrics.Answered(metrics.StrategyLocal)
	return LocalAnswer(query, contextText)
}

func (c *Composer) generate(ctx context.Context, query, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	answer, err := c.gen.Generate(ctx, Request{System: SystemPrompt, Prompt: BuildPrompt(query, contextText)})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", Wrap(KindTimeout, c.gen.Name(), "generation timed out", err)
		}
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", NewError(KindEmpty, c.gen.Name(), "empty completion")
	}
	return answer, nil
}

// BuildContext joins the retrieved texts in rank order.
func BuildContext(results []domain.SearchResult) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Document.Text
	}
	return strings.Join(texts, "\n")
}

// BuildPrompt formats the user message sent to the remote model.
func BuildPrompt(query, contextText string) string {
	return fmt.Sprintf("Context: %s\n\nQuestion: %s\n\nAnswer:", contextText, query)
}

type route struct {
	keywords []string
	prefix   string
}

// routes are checked in order; the first with a keyword contained in the
// lower-cased query wins.
var routes = []route{
	{[]string{"attendance", "present", "absent"}, "Based on attendance records: "},
	{[]string{"summary", "report"}, "Here's relevant summary information: "},
	{[]string{"analytics", "metric", "performance"}, "Analytics data shows: "},
	{[]string{"research", "paper", "study"}, "Research information: "},
}

const (
	routedExcerpt  = 200
	defaultExcerpt = 300
	defaultPrefix  = "I found this information relevant to your query: "
)

// LocalAnswer builds a templated answer from a prefix chosen by keywords in
// query and an excerpt of contextText.
func LocalAnswer(query, contextText string) string {
	q := strings.ToLower(query)
	for _, r := range routes {
		for _, kw := range r.keywords {
			if strings.Contains(q, kw) {
				return r.prefix + truncate(contextText, routedExcerpt) + "..."
			}
		}
	}
	return defaultPrefix + truncate(contextText, defaultExcerpt) + "..."
}

// truncate returns the first n characters of s.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
