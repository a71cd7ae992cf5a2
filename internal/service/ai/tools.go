package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const (
	webSearchRateLimit  = 6
	webSearchRateWindow = time.Minute
	webSearchTimeout    = 10 * time.Second
)

type toolConversationKey struct{}

// WithConversation tags a context with the conversation id so tool rate
// limits apply per conversation.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, toolConversationKey{}, conversationID)
}

func conversationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(toolConversationKey{}).(string)
	return id
}

// InitToolsChain assembles the tool set exposed to the react agent. Only the
// token-free DuckDuckGo search is wired; a failed init just disables tools
// rather than failing service startup.
func InitToolsChain(ctx context.Context) []tool.BaseTool {
	var tools []tool.BaseTool
	if ws := initWebSearch(ctx); ws != nil {
		tools = append(tools, ws)
	}
	return tools
}

var webSearchLimiter = newToolRateLimiter(webSearchRateLimit, webSearchRateWindow)

type webSearchTool struct {
	duck tool.InvokableTool
}

type webSearchParams struct {
	Query string `json:"query"`
}

func initWebSearch(ctx context.Context) tool.InvokableTool {
	duckConfig := &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    webSearchTimeout,
	}
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, duckConfig)
	if err != nil {
		log.Printf("web search tool disabled: %v", err)
		return nil
	}

	ws := &webSearchTool{duck: duckTool}
	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for current information; limited to a few calls per minute per conversation.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ws.run)
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}

	key := conversationFromContext(ctx)
	if key == "" {
		key = "global"
	}
	if !webSearchLimiter.Allow(key) {
		return "", errors.New("web search rate limit exceeded, please retry in a minute")
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	return w.duck.InvokableRun(ctx, string(payloadBytes))
}

// toolRateLimiter caps how often the agent may call external tools.
type toolRateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
}

func newToolRateLimiter(limit int, window time.Duration) *toolRateLimiter {
	return &toolRateLimiter{limit: limit, window: window, hits: make(map[string][]time.Time)}
}

func (l *toolRateLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.hits[key]
	cutoff := now.Add(-l.window)
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 {
		queue = queue[idx:]
	}
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	queue = append(queue, now)
	l.hits[key] = queue
	return true
}
