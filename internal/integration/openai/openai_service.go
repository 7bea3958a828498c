// Package openai maps free-text chat messages onto bot commands
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured
const DefaultModel = openai.ChatModelGPT4o

// Commands the interpreter may resolve a message to. CommandNone means the
// message is small talk and only the reply should be shown.
const (
	CommandLatest = "latest"
	CommandStatus = "status"
	CommandHelp   = "help"
	CommandNone   = "none"
)

// ErrUnknownCommand is returned when the model answers with a command the bot does not have
var ErrUnknownCommand = errors.New("unknown command in model response")

// Intent defines the structured output from the model.
type Intent struct {
	Command string `json:"command" jsonschema:"enum=latest,enum=status,enum=help,enum=none" jsonschema_description:"The bot command that answers the message: latest, status, help, or none"`
	Reply   string `json:"reply" jsonschema_description:"A one-line reply to show the user in their original language"`
}

// OpenAIService interprets chat messages through the OpenAI chat completions API.
type OpenAIService struct {
	client openai.Client
	model  openai.ChatModel
	schema interface{}
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// NewOpenAIService creates a new interpreter. An empty model falls back to DefaultModel.
func NewOpenAIService(apiKey, model string) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is not set")
	}
	chatModel := openai.ChatModel(model)
	if model == "" {
		chatModel = DefaultModel
	}

	return &OpenAIService{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  chatModel,
		schema: GenerateSchema[Intent](),
	}, nil
}

const systemPrompt = `You are the front desk of a river monitoring bot for the Labe at Ústí nad Labem.
The bot measures water level (cm), flow (m³/s) and water temperature (°C) every few minutes.

Map the user's message to exactly one command:
- "latest": the user wants current conditions (level, flow, temperature, is it safe to go in, how is the river).
- "status": the user asks whether data collection works or when data was last fetched.
- "help": the user asks what the bot can do.
- "none": greetings, small talk or anything unrelated to the river.

reply: one short line in the user's language. For "none" answer the message directly and mention /help.

Output strictly in JSON.`

// InterpretMessage asks the model which bot command answers text.
// It returns the command name and the reply line to prefix the answer with.
func (s *OpenAIService) InterpretMessage(ctx context.Context, text string) (string, string, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "bot_intent",
		Description: openai.String("Structured response containing the bot command and a reply line"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	respFormat := openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
		ResponseFormat: respFormat,
		Model:          s.model,
	})
	if err != nil {
		return "", "", fmt.Errorf("error calling OpenAI API: %w", err)
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return "", "", errors.New("received empty response from OpenAI")
	}

	intent, err := ParseIntent(chat.Choices[0].Message.Content)
	if err != nil {
		log.Printf("Failed to parse OpenAI response: %s\nRaw response: %s", err, chat.Choices[0].Message.Content)
		return "", "", err
	}
	return intent.Command, intent.Reply, nil
}

// ParseIntent decodes the model's JSON answer and normalises the command name
func ParseIntent(content string) (*Intent, error) {
	var intent Intent
	if err := json.Unmarshal([]byte(content), &intent); err != nil {
		return nil, fmt.Errorf("error unmarshalling OpenAI response: %w", err)
	}

	intent.Command = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(intent.Command)), "/")
	intent.Reply = strings.TrimSpace(intent.Reply)

	switch intent.Command {
	case CommandLatest, CommandStatus, CommandHelp, CommandNone:
		return &intent, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, intent.Command)
	}
}
