package bridge

import "encoding/json"

// Default inference parameters applied when the caller does not supply
// an override in the session configuration.
const (
	DefaultMaxTokens   = 1024
	DefaultTopP        = 0.95
	DefaultTemperature = 0.7

	DefaultVoiceID = "matthew"

	// InputSampleRate is the rate the model expects inbound audio at.
	InputSampleRate = 16000
	// OutputSampleRate is the rate the model emits audio at.
	OutputSampleRate = 24000
)

// InferenceConfig controls the model's generation parameters.
type InferenceConfig struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

// DefaultInferenceConfig returns the stock generation parameters.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		MaxTokens:   DefaultMaxTokens,
		TopP:        DefaultTopP,
		Temperature: DefaultTemperature,
	}
}

// ToolSpec describes a single tool advertised to the model at prompt start.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// InputSchema is the JSON schema for the tool input, serialized.
	InputSchema string `json:"inputSchema"`
}

type eventDoc map[string]interface{}

func wrap(name string, body interface{}) json.RawMessage {
	raw, _ := json.Marshal(eventDoc{"event": eventDoc{name: body}})
	return raw
}

// SessionStartEvent opens a model session with the given inference config.
func SessionStartEvent(cfg InferenceConfig) json.RawMessage {
	return wrap("sessionStart", eventDoc{
		"inferenceConfiguration": cfg,
	})
}

// PromptStartEvent declares the prompt and its output configurations.
// tools may be empty, in which case no tool configuration is advertised.
func PromptStartEvent(promptName, voiceID string, tools []ToolSpec) json.RawMessage {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	body := eventDoc{
		"promptName": promptName,
		"textOutputConfiguration": eventDoc{
			"mediaType": "text/plain",
		},
		"audioOutputConfiguration": eventDoc{
			"mediaType":       "audio/lpcm",
			"sampleRateHertz": OutputSampleRate,
			"sampleSizeBits":  16,
			"channelCount":    1,
			"voiceId":         voiceID,
			"encoding":        "base64",
			"audioType":       "SPEECH",
		},
	}
	if len(tools) > 0 {
		specs := make([]eventDoc, 0, len(tools))
		for _, t := range tools {
			specs = append(specs, eventDoc{
				"toolSpec": eventDoc{
					"name":        t.Name,
					"description": t.Description,
					"inputSchema": eventDoc{"json": t.InputSchema},
				},
			})
		}
		body["toolUseOutputConfiguration"] = eventDoc{
			"mediaType": "application/json",
		}
		body["toolConfiguration"] = eventDoc{"tools": specs}
	}
	return wrap("promptStart", body)
}

// ContentStartTextEvent opens a text content block, typically for the
// system prompt.
func ContentStartTextEvent(promptName, contentName string) json.RawMessage {
	return wrap("contentStart", eventDoc{
		"promptName":  promptName,
		"contentName": contentName,
		"type":        "TEXT",
		"interactive": true,
		"role":        "SYSTEM",
		"textInputConfiguration": eventDoc{
			"mediaType": "text/plain",
		},
	})
}

// TextInputEvent carries a text payload inside an open text block.
func TextInputEvent(promptName, contentName, content string) json.RawMessage {
	return wrap("textInput", eventDoc{
		"promptName":  promptName,
		"contentName": contentName,
		"content":     content,
	})
}

// ContentStartAudioEvent opens the streaming audio block for user speech.
func ContentStartAudioEvent(promptName, contentName string) json.RawMessage {
	return wrap("contentStart", eventDoc{
		"promptName":  promptName,
		"contentName": contentName,
		"type":        "AUDIO",
		"interactive": true,
		"role":        "USER",
		"audioInputConfiguration": eventDoc{
			"mediaType":       "audio/lpcm",
			"sampleRateHertz": InputSampleRate,
			"sampleSizeBits":  16,
			"channelCount":    1,
			"audioType":       "SPEECH",
			"encoding":        "base64",
		},
	})
}

// AudioInputEvent carries one base64 PCM16 chunk.
func AudioInputEvent(promptName, contentName, content string) json.RawMessage {
	return wrap("audioInput", eventDoc{
		"promptName":  promptName,
		"contentName": contentName,
		"content":     content,
	})
}

// ContentStartToolEvent opens a tool-result content block correlated with
// the toolUseId the model provided.
func ContentStartToolEvent(promptName, contentName, toolUseID string) json.RawMessage {
	return wrap("contentStart", eventDoc{
		"promptName":  promptName,
		"contentName": contentName,
		"interactive": false,
		"type":        "TOOL",
		"role":        "TOOL",
		"toolResultInputConfiguration": eventDoc{
			"toolUseId": toolUseID,
			"type":      "TEXT",
			"textInputConfiguration": eventDoc{
				"mediaType": "text/plain",
			},
		},
	})
}

// ToolResultEvent carries the serialized tool output.
func ToolResultEvent(promptName, contentName, content string) json.RawMessage {
	return wrap("toolResult", eventDoc{
		"promptName":  promptName,
		"contentName": contentName,
		"content":     content,
	})
}

// ContentEndEvent closes a content block.
func ContentEndEvent(promptName, contentName string) json.RawMessage {
	return wrap("contentEnd", eventDoc{
		"promptName":  promptName,
		"contentName": contentName,
	})
}

// PromptEndEvent closes the prompt.
func PromptEndEvent(promptName string) json.RawMessage {
	return wrap("promptEnd", eventDoc{
		"promptName": promptName,
	})
}

// SessionEndEvent closes the model session.
func SessionEndEvent() json.RawMessage {
	return wrap("sessionEnd", eventDoc{})
}
