package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		// cl100k_base covers the GPT-4 family, close enough for the
		// status line regardless of provider.
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts tokens in a text, falling back to a rough
// chars-per-token estimate when the encoder is unavailable.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return approximateTokens(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// EstimateTokens sizes a conversation the way it will be billed,
// including per-message formatting overhead.
func EstimateTokens(messages []Message) int {
	if err := initTokenEncoder(); err != nil {
		total := 0
		for _, msg := range messages {
			total += approximateTokens(msg.Content)
		}
		return total
	}

	total := 0
	for _, msg := range messages {
		// Roughly 4 tokens of framing per message.
		total += 4
		total += len(tokenEncoder.Encode(msg.Role, nil, nil))
		total += len(tokenEncoder.Encode(msg.Content, nil, nil))
	}
	total += 2
	return total
}

func approximateTokens(text string) int {
	return len(text) / 4
}
