package models

import "time"

// TokenUsage reports model token consumption for one turn. Estimated is set
// when the numbers were computed locally instead of reported by the server.
type TokenUsage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// NewTokenUsage builds a usage record with a consistent total.
func NewTokenUsage(prompt, completion int) TokenUsage {
	return TokenUsage{PromptTokens: prompt, CompletionTokens: completion}.Normalize()
}

// Normalize clamps negative counts and recomputes the total.
func (u TokenUsage) Normalize() TokenUsage {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// EstimateTokens approximates usage at four runes per token.
func EstimateTokens(prompt, completion string) TokenUsage {
	u := NewTokenUsage(approxTokens(prompt), approxTokens(completion))
	u.Estimated = true
	return u
}

func approxTokens(s string) int {
	n := len([]rune(s))
	return (n + 3) / 4
}

// Exchange is one completed user/bot turn kept in the history log.
type Exchange struct {
	UserMessage string      `json:"userMessage"`
	BotResponse string      `json:"botResponse"`
	Intent      *string     `json:"intent"`
	Timestamp   time.Time   `json:"timestamp"`
	Tokens      *TokenUsage `json:"tokens"`
}

// Reply is what a chat backend returns for one submitted message.
type Reply struct {
	Content string
	Intent  *string
	Tokens  *TokenUsage
}

// RemoteExchange is a record from the server-side history view.
type RemoteExchange struct {
	ID          any    `json:"id,omitempty"`
	Timestamp   string `json:"timestamp"`
	UserMessage string `json:"mensaje_usuario"`
	BotResponse string `json:"respuesta_bot"`
	Intent      string `json:"intencion"`
}

// MetricsSnapshot is emitted on every sampler tick and at completion.
type MetricsSnapshot struct {
	ElapsedSeconds   float64     `json:"elapsed_seconds"`
	TokensPerSecond  float64     `json:"tokens_per_second"`
	CumulativeTokens int         `json:"cumulative_tokens"`
	Tokens           *TokenUsage `json:"tokens,omitempty"`
	Final            bool        `json:"final"`
}
