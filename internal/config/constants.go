package config

import "time"

const (
	// Seed message for every fresh transcript
	GreetingMessage = "Hi there! How can I help?"

	// Input recall depth
	InputHistorySize = 10

	// Wait after a RAG upsert for the vector index to become queryable
	RAGSettleDelay = 2500 * time.Millisecond

	// Prediction timeouts
	RequestTimeout = 90 * time.Second
	UploadTimeout  = 60 * time.Second

	// Fallback shown when the server gives no usable error text
	GenericErrorMessage = "Oops! There seems to be an error. Please try again."

	// Shown when the pre-send upload step fails
	UploadFailedMessage = "Unable to upload documents"

	// Boilerplate the server prepends to some agent errors
	StrippedErrorPrefix = "Unable to parse JSON response from chat agent.\n\n"

	// Preview substituted for audio drafts instead of decoding the payload
	AudioPreviewAsset = "wave-sound.jpg"

	// Bytes per megabyte for upload size rules
	BytesPerMB = 1024 * 1024

	// Telegram limits
	MaxTelegramMessageLen = 4096

	// Minimum interval between streamed edits of a Telegram reply
	StreamEditInterval = 1200 * time.Millisecond
)
