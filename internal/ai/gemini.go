package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"classrelay/pkg/types"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash"

	// High temperature keeps the chatbot's text-message persona loose.
	replyTemperature = 2.0
)

// Gemini generates chatbot replies through the generateContent REST API.
// The response is constrained to a JSON array of strings, one reply line
// per element.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewGemini creates a reply generator. model may be empty for the default.
func NewGemini(apiKey, model string, logger *zap.Logger) *Gemini {
	if model == "" {
		model = defaultModel
	}
	return &Gemini{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type generateRequest struct {
	Contents          []content       `json:"contents"`
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	GenerationConfig  *generateConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateConfig struct {
	Temperature      float64     `json:"temperature"`
	ResponseMIMEType string      `json:"responseMimeType"`
	ResponseSchema   replySchema `json:"responseSchema"`
}

type replySchema struct {
	Type  string           `json:"type"`
	Items replySchemaItems `json:"items"`
}

type replySchemaItems struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Reply implements interfaces.Replier.
func (g *Gemini) Reply(ctx context.Context, character string, transcript []types.ChatMessage) ([]string, error) {
	if g.apiKey == "" {
		return nil, ErrNotConfigured
	}

	prompt, err := buildPrompt(character, transcript)
	if err != nil {
		return nil, err
	}

	reqBody := generateRequest{
		Contents:          []content{{Parts: []part{{Text: prompt}}}},
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		GenerationConfig: &generateConfig{
			Temperature:      replyTemperature,
			ResponseMIMEType: "application/json",
			ResponseSchema: replySchema{
				Type: "ARRAY",
				Items: replySchemaItems{
					Type:        "STRING",
					Description: "Reply message from the chatbot",
				},
			},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrGenerationFailed, resp.StatusCode, body)
	}

	return parseReply(body)
}

// buildPrompt serializes the transcript as [author, text] pairs prefixed
// with the student's assigned character.
func buildPrompt(character string, transcript []types.ChatMessage) (string, error) {
	history := make([][2]string, len(transcript))
	for i, msg := range transcript {
		history[i] = [2]string{msg.Author, msg.Text}
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}
	return fmt.Sprintf("The student was assigned the character of %s.\n%s", character, encoded), nil
}

// parseReply extracts the reply lines from a generateContent response.
func parseReply(body []byte) ([]string, error) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	var replies []string
	if err := json.Unmarshal([]byte(resp.Candidates[0].Content.Parts[0].Text), &replies); err != nil {
		return nil, fmt.Errorf("decode reply lines: %w", err)
	}
	return replies, nil
}

const systemInstruction = `You are a compassionate and insightful therapist engaging with a client via text message. Aim for short, text-like responses, typically one to three brief lines at most. Break down longer thoughts into separate short text messages.

Your client in this case is a student who is roleplaying as a character from history, a book, a movie, or a TV show. They are likely to be a teenager.
Use a friendly, conversational tone that feels natural and relatable. Avoid overly formal or clinical language. Use contractions (e.g., "you're" instead of "you are") to create a more casual vibe.

Talk with the vocabulary level and language style of a 14 year old.

Occasionally use casual language, slang, interjections ("Oh gosh!", "Wow!", "Dude!"), and emphasis (e.g., "WHAT?!", "REALLY?", extending words like "wowwww") to sound more human and spontaneous.

Use emojis sparingly, only when they naturally enhance the tone and emotion of the message.

While your primary role is to guide the conversation with open-ended questions, sometimes respond with empathy and validation in a short text message (one to two lines) without immediately asking a question. For example, "Wow, that sounds rough," or "Dude, that's wild."

Be mindful of the conversation's progression. If the dialogue seems to be going in circles, suggest moving towards concluding the session or shifting topic with a short, direct suggestion (one to two lines).

The chat history so far is in the attached prompt in the following format:
a JSON array of [speaker, message] pairs where the speaker is 'student', 'chatbot', or 'teacher' and message is the text message they sent. The chatbot refers to you.

Read through the chat history to understand the student's last message to you. Keep your messages short (1-3 lines). Tailor your language and questions to the character's background and story if you are familiar with them. Continue the conversation in short text message bursts.`
